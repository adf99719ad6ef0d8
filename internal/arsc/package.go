package arsc

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/internal/block"
	"github.com/antisplit/internal/chunk"
)

const (
	packageHeaderSize       = 288
	packageHeaderNoIDOffset = 284
	packageNameUnits        = 128
	libraryHeaderSize       = 12
	libraryEntrySize        = 4 + packageNameUnits*2
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Package is a ResTable_package chunk.
type Package struct {
	block.Node
	ID             uint32
	Name           string
	TypeStrings    *chunk.StringPool
	KeyStrings     *chunk.StringPool
	LastPublicType uint32
	LastPublicKey  uint32
	TypeIDOffset   uint32
	// HeaderSize is 288, or 284 for tables written before typeIdOffset.
	HeaderSize uint16
	Chunks     *block.List[Child]
}

// NewPackage creates an empty package.
func NewPackage(id uint32, name string) *Package {
	p := &Package{
		ID:          id,
		Name:        name,
		TypeStrings: chunk.NewStringPool(false),
		KeyStrings:  chunk.NewStringPool(false),
		HeaderSize:  packageHeaderSize,
		Chunks:      block.NewList[Child](nil),
	}
	return p
}

// Type returns TypeTablePackage.
func (p *Package) Type() uint16 { return chunk.TypeTablePackage }

// TypeName returns the name of type id, or "" when the type is unnamed.
func (p *Package) TypeName(id uint8) string {
	idx := int(id) - 1 - int(p.TypeIDOffset)
	if idx < 0 {
		return ""
	}
	return p.TypeStrings.Value(idx)
}

// Spec returns the TypeSpec for id, or nil.
func (p *Package) Spec(id uint8) *TypeSpec {
	for _, c := range p.Chunks.Items() {
		if s, ok := c.(*TypeSpec); ok && s.ID == id {
			return s
		}
	}
	return nil
}

// Specs returns all type specs in chunk order.
func (p *Package) Specs() []*TypeSpec {
	var out []*TypeSpec
	for _, c := range p.Chunks.Items() {
		if s, ok := c.(*TypeSpec); ok {
			out = append(out, s)
		}
	}
	return out
}

// Types returns the Type chunks of id in chunk order.
func (p *Package) Types(id uint8) []*Type {
	var out []*Type
	for _, c := range p.Chunks.Items() {
		if t, ok := c.(*Type); ok && t.ID == id {
			out = append(out, t)
		}
	}
	return out
}

// Library returns the package's library chunk, or nil.
func (p *Package) Library() *Library {
	for _, c := range p.Chunks.Items() {
		if l, ok := c.(*Library); ok {
			return l
		}
	}
	return nil
}

// refresh recomputes the per-spec counts derived from the Type chunks.
func (p *Package) refresh() {
	counts := map[uint8]int{}
	sizes := map[uint8]int{}
	for _, c := range p.Chunks.Items() {
		if t, ok := c.(*Type); ok {
			counts[t.ID]++
			if len(t.Entries) > sizes[t.ID] {
				sizes[t.ID] = len(t.Entries)
			}
		}
	}
	for _, s := range p.Specs() {
		s.TypesCount = uint16(counts[s.ID])
		s.Grow(sizes[s.ID])
	}
}

func decodePackage(h chunk.Header, r *binio.Reader, values *chunk.StringPool) (*Package, error) {
	_ = r.Skip(chunk.HeaderSize)
	p := &Package{HeaderSize: h.HeaderSize, Chunks: block.NewList[Child](nil)}
	p.ID, _ = r.ReadUint32()
	nameBytes, err := r.ReadBytes(packageNameUnits * 2)
	if err != nil {
		return nil, err
	}
	if p.Name, err = decodePackageName(nameBytes); err != nil {
		return nil, err
	}
	typeStringsAt, _ := r.ReadUint32()
	p.LastPublicType, _ = r.ReadUint32()
	keyStringsAt, _ := r.ReadUint32()
	p.LastPublicKey, err = r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if h.HeaderSize >= packageHeaderSize {
		p.TypeIDOffset, _ = r.ReadUint32()
	}
	if err := r.Seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}

	for r.Len() > 0 {
		at := uint32(r.Pos())
		ch, err := chunk.PeekHeader(r)
		if err != nil {
			return nil, err
		}
		switch {
		case ch.Type == chunk.TypeStringPool && at == typeStringsAt:
			if p.TypeStrings, err = chunk.DecodeStringPool(r); err != nil {
				return nil, err
			}
		case ch.Type == chunk.TypeStringPool && at == keyStringsAt:
			if p.KeyStrings, err = chunk.DecodeStringPool(r); err != nil {
				return nil, err
			}
		case ch.Type == chunk.TypeTableTypeSpec:
			_, sub, _ := chunk.ReadChunk(r)
			spec, err := decodeTypeSpec(ch, sub)
			if err != nil {
				return nil, err
			}
			p.Chunks.Add(spec)
		case ch.Type == chunk.TypeTableType:
			if p.KeyStrings == nil {
				return nil, fmt.Errorf("type chunk before key strings")
			}
			_, sub, _ := chunk.ReadChunk(r)
			t, err := decodeType(ch, sub, p.KeyStrings, values)
			if err != nil {
				return nil, err
			}
			p.Chunks.Add(t)
		case ch.Type == chunk.TypeTableLibrary:
			_, sub, _ := chunk.ReadChunk(r)
			lib, err := decodeLibrary(ch, sub)
			if err != nil {
				return nil, err
			}
			p.Chunks.Add(lib)
		default:
			raw, err := chunk.DecodeRaw(r)
			if err != nil {
				return nil, err
			}
			p.Chunks.Add(raw)
		}
	}
	if p.TypeStrings == nil {
		p.TypeStrings = chunk.NewStringPool(false)
	}
	if p.KeyStrings == nil {
		p.KeyStrings = chunk.NewStringPool(false)
	}
	// Sparse types only store populated slots; size them from their spec.
	for _, s := range p.Specs() {
		for _, t := range p.Types(s.ID) {
			t.Grow(s.EntryCount())
		}
	}
	return p, nil
}

func (p *Package) encode(w *binio.Writer, values *chunk.StringPool) error {
	p.refresh()
	start := w.Len()
	headerSize := p.HeaderSize
	if headerSize != packageHeaderNoIDOffset {
		headerSize = packageHeaderSize
	}

	chunk.WriteHeader(w, chunk.TypeTablePackage, headerSize, 0)
	w.WriteUint32(p.ID)
	name, err := encodePackageName(p.Name)
	if err != nil {
		return err
	}
	_, _ = w.Write(name)
	typeStringsAt := w.Len()
	w.WriteUint32(0)
	w.WriteUint32(p.LastPublicType)
	keyStringsAt := w.Len()
	w.WriteUint32(0)
	w.WriteUint32(p.LastPublicKey)
	if headerSize == packageHeaderSize {
		w.WriteUint32(p.TypeIDOffset)
	}

	w.PutUint32At(typeStringsAt, uint32(w.Len()-start))
	if _, err := p.TypeStrings.WriteTo(w); err != nil {
		return err
	}
	w.PutUint32At(keyStringsAt, uint32(w.Len()-start))
	if _, err := p.KeyStrings.WriteTo(w); err != nil {
		return err
	}

	for _, c := range p.Chunks.Items() {
		switch c := c.(type) {
		case *TypeSpec:
			c.encode(w)
		case *Type:
			c.encode(w, p.KeyStrings, values)
		case *Library:
			c.encode(w)
		case *chunk.Raw:
			if _, err := c.WriteTo(w); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported package chunk %T", c)
		}
	}
	w.PutUint32At(start+4, uint32(w.Len()-start))
	return nil
}

func decodePackageName(b []byte) (string, error) {
	end := len(b)
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			end = i
			break
		}
	}
	out, err := utf16le.NewDecoder().Bytes(b[:end])
	if err != nil {
		return "", fmt.Errorf("package name: %v", err)
	}
	return string(out), nil
}

func encodePackageName(name string) ([]byte, error) {
	enc, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("package name %q: %v", name, err)
	}
	if len(enc) > (packageNameUnits-1)*2 {
		return nil, fmt.Errorf("package name %q exceeds %d units", name, packageNameUnits-1)
	}
	out := make([]byte, packageNameUnits*2)
	copy(out, enc)
	return out, nil
}

// LibraryEntry maps a runtime package id to a shared library name.
type LibraryEntry struct {
	ID   uint32
	Name string
}

// Library is a dynamic reference table chunk.
type Library struct {
	block.Node
	Entries []LibraryEntry
}

// Type returns TypeTableLibrary.
func (l *Library) Type() uint16 { return chunk.TypeTableLibrary }

// Add appends e unless an entry with the same id exists.
func (l *Library) Add(e LibraryEntry) bool {
	for _, x := range l.Entries {
		if x.ID == e.ID {
			return false
		}
	}
	l.Entries = append(l.Entries, e)
	return true
}

func decodeLibrary(h chunk.Header, r *binio.Reader) (*Library, error) {
	_ = r.Skip(chunk.HeaderSize)
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := r.Seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}
	if int64(count)*libraryEntrySize > int64(r.Len()) {
		return nil, fmt.Errorf("library of %d entries overruns chunk", count)
	}
	l := &Library{Entries: make([]LibraryEntry, count)}
	for i := range l.Entries {
		l.Entries[i].ID, _ = r.ReadUint32()
		name, _ := r.ReadBytes(packageNameUnits * 2)
		if l.Entries[i].Name, err = decodePackageName(name); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Library) encode(w *binio.Writer) {
	chunk.WriteHeader(w, chunk.TypeTableLibrary, libraryHeaderSize, libraryHeaderSize+libraryEntrySize*len(l.Entries))
	w.WriteUint32(uint32(len(l.Entries)))
	for _, e := range l.Entries {
		w.WriteUint32(e.ID)
		name, err := encodePackageName(e.Name)
		if err != nil {
			name = make([]byte, packageNameUnits*2)
		}
		_, _ = w.Write(name)
	}
}
