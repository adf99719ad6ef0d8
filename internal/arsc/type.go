package arsc

import (
	"bytes"
	"fmt"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/internal/block"
	"github.com/antisplit/internal/chunk"
)

// Type flags.
const (
	TypeFlagSparse   uint8 = 0x01
	TypeFlagOffset16 uint8 = 0x02
)

const (
	typeSpecHeaderSize = 16
	typeFixedHeader    = 20
	noEntry32          = 0xFFFFFFFF
	noEntry16          = 0xFFFF
)

// Child is a chunk owned by a Package.
type Child interface {
	block.Element
	Type() uint16
}

// TypeSpec declares a resource type and the configuration-change flags of
// each of its entries.
type TypeSpec struct {
	block.Node
	ID         uint8
	Res0       uint8
	TypesCount uint16
	Flags      []uint32
}

// Type returns TypeTableTypeSpec.
func (s *TypeSpec) Type() uint16 { return chunk.TypeTableTypeSpec }

// EntryCount returns the number of entries declared by the spec.
func (s *TypeSpec) EntryCount() int { return len(s.Flags) }

// Grow extends the spec to at least n entries.
func (s *TypeSpec) Grow(n int) {
	for len(s.Flags) < n {
		s.Flags = append(s.Flags, 0)
	}
}

func decodeTypeSpec(h chunk.Header, r *binio.Reader) (*TypeSpec, error) {
	_ = r.Skip(chunk.HeaderSize)
	s := &TypeSpec{}
	s.ID, _ = r.ReadUint8()
	s.Res0, _ = r.ReadUint8()
	s.TypesCount, _ = r.ReadUint16()
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, fmt.Errorf("type spec with id 0")
	}
	if err := r.Seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}
	if int64(count)*4 > int64(r.Len()) {
		return nil, fmt.Errorf("type spec %d: %d flags overrun chunk", s.ID, count)
	}
	s.Flags = make([]uint32, count)
	for i := range s.Flags {
		s.Flags[i], _ = r.ReadUint32()
	}
	return s, nil
}

func (s *TypeSpec) encode(w *binio.Writer) {
	chunk.WriteHeader(w, chunk.TypeTableTypeSpec, typeSpecHeaderSize, typeSpecHeaderSize+4*len(s.Flags))
	w.WriteUint8(s.ID)
	w.WriteUint8(s.Res0)
	w.WriteUint16(s.TypesCount)
	w.WriteUint32(uint32(len(s.Flags)))
	for _, f := range s.Flags {
		w.WriteUint32(f)
	}
}

// Type holds the entries of one resource type for one configuration.
// Entries may repeat the same *Entry at several indices; the encoded
// form then shares one entry body.
type Type struct {
	block.Node
	ID       uint8
	Flags    uint8
	Reserved uint16
	// Config is the raw ResTable_config, including its leading size field.
	Config  []byte
	Entries []*Entry
}

// Type returns TypeTableType.
func (t *Type) Type() uint16 { return chunk.TypeTableType }

// SameConfig reports whether t and o describe the same configuration.
func (t *Type) SameConfig(o *Type) bool {
	return t.ID == o.ID && bytes.Equal(t.Config, o.Config)
}

// Grow extends the entry table to at least n slots.
func (t *Type) Grow(n int) {
	for len(t.Entries) < n {
		t.Entries = append(t.Entries, nil)
	}
}

// Entry returns the entry at index, or nil.
func (t *Type) Entry(index int) *Entry {
	if index < 0 || index >= len(t.Entries) {
		return nil
	}
	return t.Entries[index]
}

// Populated returns the number of non-empty slots.
func (t *Type) Populated() int {
	n := 0
	for _, e := range t.Entries {
		if e != nil {
			n++
		}
	}
	return n
}

func decodeType(h chunk.Header, r *binio.Reader, keys, values *chunk.StringPool) (*Type, error) {
	_ = r.Skip(chunk.HeaderSize)
	t := &Type{}
	t.ID, _ = r.ReadUint8()
	t.Flags, _ = r.ReadUint8()
	t.Reserved, _ = r.ReadUint16()
	count, _ := r.ReadUint32()
	entriesStart, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if h.HeaderSize < typeFixedHeader+4 {
		return nil, fmt.Errorf("type header size %d", h.HeaderSize)
	}
	cfg, err := r.ReadBytes(int(h.HeaderSize) - typeFixedHeader)
	if err != nil {
		return nil, err
	}
	t.Config = append([]byte(nil), cfg...)
	if int64(entriesStart) > int64(r.Size()) {
		return nil, fmt.Errorf("type %d: entries start %d beyond chunk", t.ID, entriesStart)
	}

	type slot struct {
		index  int
		offset uint32
	}
	var slots []slot
	switch {
	case t.Flags&TypeFlagSparse != 0:
		for i := uint32(0); i < count; i++ {
			idx, err1 := r.ReadUint16()
			off, err2 := r.ReadUint16()
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("type %d: sparse table truncated", t.ID)
			}
			slots = append(slots, slot{int(idx), uint32(off) * 4})
		}
	case t.Flags&TypeFlagOffset16 != 0:
		for i := uint32(0); i < count; i++ {
			off, err := r.ReadUint16()
			if err != nil {
				return nil, fmt.Errorf("type %d: offset table truncated", t.ID)
			}
			if off != noEntry16 {
				slots = append(slots, slot{int(i), uint32(off) * 4})
			}
		}
		t.Grow(int(count))
	default:
		for i := uint32(0); i < count; i++ {
			off, err := r.ReadUint32()
			if err != nil {
				return nil, fmt.Errorf("type %d: offset table truncated", t.ID)
			}
			if off != noEntry32 {
				slots = append(slots, slot{int(i), off})
			}
		}
		t.Grow(int(count))
	}

	byOffset := make(map[uint32]*Entry, len(slots))
	for _, s := range slots {
		e, ok := byOffset[s.offset]
		if !ok {
			if err := r.Seek(int(entriesStart + s.offset)); err != nil {
				return nil, fmt.Errorf("type %d entry %d: %v", t.ID, s.index, err)
			}
			if e, err = decodeEntry(r, keys, values); err != nil {
				return nil, fmt.Errorf("type %d entry %d: %v", t.ID, s.index, err)
			}
			byOffset[s.offset] = e
		}
		t.Grow(s.index + 1)
		t.Entries[s.index] = e
	}
	return t, nil
}

// layout picks the offset encoding: the requested flags unless the entry
// offsets no longer fit 16 bits.
func (t *Type) layout(keys *chunk.StringPool) (flags uint8, offsets map[*Entry]uint32, order []*Entry, bodySize int) {
	offsets = make(map[*Entry]uint32)
	for _, e := range t.Entries {
		if e == nil {
			continue
		}
		if _, ok := offsets[e]; ok {
			continue
		}
		offsets[e] = uint32(bodySize)
		order = append(order, e)
		bodySize += e.size(keys)
	}
	flags = t.Flags
	if flags&(TypeFlagSparse|TypeFlagOffset16) != 0 && bodySize/4 >= noEntry16 {
		flags &^= TypeFlagSparse | TypeFlagOffset16
	}
	return flags, offsets, order, bodySize
}

func (t *Type) encode(w *binio.Writer, keys, values *chunk.StringPool) {
	flags, offsets, order, _ := t.layout(keys)
	start := w.Len()
	headerSize := typeFixedHeader + len(t.Config)

	var count int
	if flags&TypeFlagSparse != 0 {
		count = t.Populated()
	} else {
		count = len(t.Entries)
	}

	chunk.WriteHeader(w, chunk.TypeTableType, uint16(headerSize), 0)
	w.WriteUint8(t.ID)
	w.WriteUint8(flags)
	w.WriteUint16(t.Reserved)
	w.WriteUint32(uint32(count))
	entriesStartAt := w.Len()
	w.WriteUint32(0)
	_, _ = w.Write(t.Config)

	switch {
	case flags&TypeFlagSparse != 0:
		for i, e := range t.Entries {
			if e != nil {
				w.WriteUint16(uint16(i))
				w.WriteUint16(uint16(offsets[e] / 4))
			}
		}
	case flags&TypeFlagOffset16 != 0:
		for _, e := range t.Entries {
			if e == nil {
				w.WriteUint16(noEntry16)
			} else {
				w.WriteUint16(uint16(offsets[e] / 4))
			}
		}
	default:
		for _, e := range t.Entries {
			if e == nil {
				w.WriteUint32(noEntry32)
			} else {
				w.WriteUint32(offsets[e])
			}
		}
	}
	w.Align(4)
	w.PutUint32At(entriesStartAt, uint32(w.Len()-start))

	for _, e := range order {
		e.encode(w, keys, values)
	}
	w.PutUint32At(start+4, uint32(w.Len()-start))
}
