package arsc

import (
	"fmt"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/internal/chunk"
)

// Entry flags.
const (
	EntryFlagComplex uint16 = 0x0001
	EntryFlagPublic  uint16 = 0x0002
	EntryFlagWeak    uint16 = 0x0004
	EntryFlagCompact uint16 = 0x0008
)

const (
	simpleEntryHeader  = 8
	complexEntryHeader = 16
	mapEntrySize       = 12
	compactEntrySize   = 8
)

// MapEntry is one name/value pair of a complex (bag) entry.
type MapEntry struct {
	Name  uint32
	Value chunk.Value
}

// Entry is a resource value for one configuration. Key refers to the owning
// package's key pool; string values refer to the table's global pool.
type Entry struct {
	Flags  uint16
	Key    *chunk.StringItem
	Value  chunk.Value
	Parent uint32
	Map    []MapEntry
}

// IsComplex reports whether the entry is a bag.
func (e *Entry) IsComplex() bool {
	return e.Flags&EntryFlagComplex != 0
}

func (e *Entry) compact(keys *chunk.StringPool) bool {
	return e.Flags&EntryFlagCompact != 0 && !e.IsComplex() && keys.Ref(e.Key) <= 0xFFFF
}

// size returns the encoded size given the key pool.
func (e *Entry) size(keys *chunk.StringPool) int {
	switch {
	case e.compact(keys):
		return compactEntrySize
	case e.IsComplex():
		return complexEntryHeader + mapEntrySize*len(e.Map)
	default:
		return simpleEntryHeader + chunk.ValueSize
	}
}

func (e *Entry) encode(w *binio.Writer, keys, values *chunk.StringPool) {
	if e.compact(keys) {
		data := e.Value.Data
		if e.Value.DataType == chunk.DataString && e.Value.Str != nil {
			data = values.Ref(e.Value.Str)
		}
		w.WriteUint16(uint16(keys.Ref(e.Key)))
		w.WriteUint16(e.Flags&0x00FF | uint16(e.Value.DataType)<<8)
		w.WriteUint32(data)
		return
	}
	flags := e.Flags &^ EntryFlagCompact
	if e.IsComplex() {
		w.WriteUint16(complexEntryHeader)
		w.WriteUint16(flags)
		w.WriteUint32(keys.Ref(e.Key))
		w.WriteUint32(e.Parent)
		w.WriteUint32(uint32(len(e.Map)))
		for _, m := range e.Map {
			w.WriteUint32(m.Name)
			m.Value.Encode(w, values)
		}
		return
	}
	w.WriteUint16(simpleEntryHeader)
	w.WriteUint16(flags)
	w.WriteUint32(keys.Ref(e.Key))
	e.Value.Encode(w, values)
}

func decodeEntry(r *binio.Reader, keys, values *chunk.StringPool) (*Entry, error) {
	size, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	e := &Entry{Flags: flags}

	if flags&EntryFlagCompact != 0 {
		data, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		if e.Key = keys.Get(int(size)); e.Key == nil {
			return nil, fmt.Errorf("entry key %d outside key pool of %d", size, keys.Len())
		}
		e.Value = chunk.Value{Size: chunk.ValueSize, DataType: uint8(flags >> 8), Data: data}
		if e.Value.DataType == chunk.DataString {
			if e.Value.Str = values.Get(int(data)); e.Value.Str == nil {
				return nil, fmt.Errorf("string value %d outside pool of %d", data, values.Len())
			}
		}
		e.Flags = flags & 0x00FF
		return e, nil
	}

	keyIdx, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if e.Key = keys.Get(int(keyIdx)); e.Key == nil {
		return nil, fmt.Errorf("entry key %d outside key pool of %d", keyIdx, keys.Len())
	}

	if flags&EntryFlagComplex == 0 {
		if size > simpleEntryHeader {
			_ = r.Skip(int(size) - simpleEntryHeader)
		}
		e.Value, err = chunk.DecodeValue(r, values)
		return e, err
	}

	if e.Parent, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if size > complexEntryHeader {
		_ = r.Skip(int(size) - complexEntryHeader)
	}
	if int64(count)*mapEntrySize > int64(r.Len()) {
		return nil, fmt.Errorf("bag of %d entries overruns chunk", count)
	}
	e.Map = make([]MapEntry, count)
	for i := range e.Map {
		if e.Map[i].Name, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if e.Map[i].Value, err = chunk.DecodeValue(r, values); err != nil {
			return nil, err
		}
	}
	return e, nil
}
