package chunk

import (
	"fmt"
	"io"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/internal/block"
	apperrors "github.com/antisplit/pkg/errors"
)

// String pool flags.
const (
	FlagSorted uint32 = 0x001
	FlagUTF8   uint32 = 0x100
)

const (
	stringPoolHeaderSize = 28
	spanEnd              = 0xFFFFFFFF
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Span is a style run over a pooled string.
type Span struct {
	Name      *StringItem
	FirstChar uint32
	LastChar  uint32
}

// StringItem is one pooled string. Chunks hold *StringItem handles and
// resolve the numeric index only when they are written.
type StringItem struct {
	block.Node
	value string
	// Spans is non-nil for strings that occupy a style slot.
	Spans []Span
	raw   []byte
}

// Value returns the string.
func (s *StringItem) Value() string {
	return s.value
}

// SetValue replaces the string.
func (s *StringItem) SetValue(v string) {
	if v == s.value {
		return
	}
	s.value = v
	s.raw = nil
	s.NotifyChanged()
}

// StringPool is a ResStringPool chunk.
type StringPool struct {
	block.Node
	Flags   uint32
	Strings *block.List[*StringItem]
	lookup  map[string]*StringItem
}

// NewStringPool creates an empty pool.
func NewStringPool(utf8 bool) *StringPool {
	p := &StringPool{Strings: block.NewList[*StringItem](nil)}
	p.Strings.SetParent(p)
	if utf8 {
		p.Flags |= FlagUTF8
	}
	return p
}

// OnChanged invalidates the lookup and propagates upward. Appends made by
// Intern keep the lookup since existing entries stay valid.
func (p *StringPool) OnChanged() {
	p.lookup = nil
	p.NotifyChanged()
}

// IsUTF8 reports whether strings are stored as UTF-8.
func (p *StringPool) IsUTF8() bool {
	return p.Flags&FlagUTF8 != 0
}

// Type returns TypeStringPool.
func (p *StringPool) Type() uint16 {
	return TypeStringPool
}

// Len returns the number of strings.
func (p *StringPool) Len() int {
	return p.Strings.Len()
}

// Get returns the string at index, or nil when out of range.
func (p *StringPool) Get(index int) *StringItem {
	if index < 0 || index >= p.Strings.Len() {
		return nil
	}
	return p.Strings.Get(index)
}

// Value returns the string at index, or "" when out of range.
func (p *StringPool) Value(index int) string {
	if s := p.Get(index); s != nil {
		return s.value
	}
	return ""
}

// Ref returns the index of item for serialization. A nil item yields NoIndex.
// Passing an item owned by another pool is a programming error and panics.
func (p *StringPool) Ref(item *StringItem) uint32 {
	if item == nil {
		return NoIndex
	}
	if item.Parent() != block.Container(p.Strings) {
		panic(fmt.Sprintf("string %q does not belong to this pool", item.value))
	}
	return uint32(item.Index())
}

// Find returns the first unstyled string equal to v.
func (p *StringPool) Find(v string) *StringItem {
	if p.lookup == nil {
		p.lookup = make(map[string]*StringItem, p.Strings.Len())
		for _, s := range p.Strings.Items() {
			if s.Spans != nil {
				continue
			}
			if _, ok := p.lookup[s.value]; !ok {
				p.lookup[s.value] = s
			}
		}
	}
	return p.lookup[v]
}

// Intern returns the existing unstyled string equal to v or appends a new one.
func (p *StringPool) Intern(v string) *StringItem {
	if s := p.Find(v); s != nil {
		return s
	}
	lookup := p.lookup
	s := &StringItem{value: v}
	p.Strings.Add(s)
	p.Flags &^= FlagSorted
	p.lookup = lookup
	p.lookup[v] = s
	return s
}

// AddStyled inserts a styled string after the last styled string, shifting
// later strings. Span names must already belong to this pool.
func (p *StringPool) AddStyled(v string, spans []Span) *StringItem {
	if spans == nil {
		spans = []Span{}
	}
	lookup := p.lookup
	s := &StringItem{value: v, Spans: spans}
	p.Strings.Insert(p.styleCount(), s)
	p.Flags &^= FlagSorted
	p.lookup = lookup
	return s
}

// InsertAt inserts a new unstyled string at index without deduplication.
// Binary XML uses it to keep resource-mapped attribute names in the pool
// prefix covered by the resource map.
func (p *StringPool) InsertAt(index int, v string) *StringItem {
	lookup := p.lookup
	s := &StringItem{value: v}
	p.Strings.Insert(index, s)
	p.Flags &^= FlagSorted
	p.lookup = lookup
	if p.lookup != nil {
		if _, ok := p.lookup[v]; !ok {
			p.lookup[v] = s
		}
	}
	return s
}

func (p *StringPool) styleCount() int {
	items := p.Strings.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Spans != nil {
			return i + 1
		}
	}
	return 0
}

// DecodeStringPool reads a string pool chunk at the reader position.
func DecodeStringPool(r *binio.Reader) (*StringPool, error) {
	start := r.Pos()
	h, sub, err := ReadChunk(r)
	if err != nil {
		return nil, err
	}
	if h.Type != TypeStringPool {
		return nil, apperrors.Format("expected string pool at %d, found chunk 0x%04x", start, h.Type)
	}
	_ = sub.Skip(HeaderSize)
	fields := make([]uint32, 5)
	for i := range fields {
		if fields[i], err = sub.ReadUint32(); err != nil {
			return nil, apperrors.Format("string pool header: %v", err)
		}
	}
	stringCount, styleCount, flags, stringsStart, stylesStart := fields[0], fields[1], fields[2], fields[3], fields[4]
	if styleCount > stringCount {
		return nil, apperrors.Format("string pool declares %d styles for %d strings", styleCount, stringCount)
	}
	if err := sub.Seek(int(h.HeaderSize)); err != nil {
		return nil, apperrors.Format("string pool header size: %v", err)
	}

	offsets := make([]uint32, stringCount)
	for i := range offsets {
		if offsets[i], err = sub.ReadUint32(); err != nil {
			return nil, apperrors.Format("string offsets: %v", err)
		}
	}
	styleOffsets := make([]uint32, styleCount)
	for i := range styleOffsets {
		if styleOffsets[i], err = sub.ReadUint32(); err != nil {
			return nil, apperrors.Format("style offsets: %v", err)
		}
	}

	p := NewStringPool(flags&FlagUTF8 != 0)
	p.Flags = flags
	data := sub.Bytes()
	items := make([]*StringItem, stringCount)
	for i, off := range offsets {
		pos := int(stringsStart) + int(off)
		if pos >= len(data) {
			return nil, apperrors.Format("string %d offset %d outside pool", i, off)
		}
		v, n, err := decodePoolString(data[pos:], p.IsUTF8())
		if err != nil {
			return nil, apperrors.Format("string %d: %v", i, err)
		}
		items[i] = &StringItem{value: v, raw: data[pos : pos+n]}
	}

	for i, off := range styleOffsets {
		sr := binio.NewReader(data)
		if err := sr.Seek(int(stylesStart) + int(off)); err != nil {
			return nil, apperrors.Format("style %d offset: %v", i, err)
		}
		spans := []Span{}
		for {
			name, err := sr.ReadUint32()
			if err != nil {
				return nil, apperrors.Format("style %d: %v", i, err)
			}
			if name == spanEnd {
				break
			}
			first, err1 := sr.ReadUint32()
			last, err2 := sr.ReadUint32()
			if err1 != nil || err2 != nil || name >= stringCount {
				return nil, apperrors.Format("style %d: malformed span", i)
			}
			spans = append(spans, Span{Name: items[name], FirstChar: first, LastChar: last})
		}
		items[i].Spans = spans
	}

	p.Strings.AddAll(items...)
	return p, nil
}

func decodeLength8(b []byte) (int, int, error) {
	if len(b) < 1 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if b[0]&0x80 == 0 {
		return int(b[0]), 1, nil
	}
	if len(b) < 2 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return int(b[0]&0x7f)<<8 | int(b[1]), 2, nil
}

func decodeLength16(b []byte) (int, int, error) {
	if len(b) < 2 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	first := int(b[0]) | int(b[1])<<8
	if first&0x8000 == 0 {
		return first, 2, nil
	}
	if len(b) < 4 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return (first&0x7fff)<<16 | int(b[2]) | int(b[3])<<8, 4, nil
}

// decodePoolString decodes one string and returns it with its encoded size
// including the terminator.
func decodePoolString(b []byte, utf8 bool) (string, int, error) {
	if utf8 {
		_, n1, err := decodeLength8(b)
		if err != nil {
			return "", 0, err
		}
		size, n2, err := decodeLength8(b[n1:])
		if err != nil {
			return "", 0, err
		}
		start := n1 + n2
		if start+size+1 > len(b) {
			return "", 0, io.ErrUnexpectedEOF
		}
		return string(b[start : start+size]), start + size + 1, nil
	}

	units, n, err := decodeLength16(b)
	if err != nil {
		return "", 0, err
	}
	end := n + units*2
	if end+2 > len(b) {
		return "", 0, io.ErrUnexpectedEOF
	}
	s, err := utf16le.NewDecoder().Bytes(b[n:end])
	if err != nil {
		return "", 0, err
	}
	return string(s), end + 2, nil
}

func encodePoolString(w *binio.Writer, v string, utf8 bool) {
	if utf8 {
		writeLength8(w, len(utf16.Encode([]rune(v))))
		writeLength8(w, len(v))
		_, _ = w.Write([]byte(v))
		w.WriteUint8(0)
		return
	}
	encoded, err := utf16le.NewEncoder().Bytes([]byte(v))
	if err != nil {
		encoded = nil
		for _, u := range utf16.Encode([]rune(v)) {
			encoded = append(encoded, byte(u), byte(u>>8))
		}
	}
	units := len(encoded) / 2
	if units > 0x7fff {
		w.WriteUint16(uint16(0x8000 | units>>16))
	}
	w.WriteUint16(uint16(units))
	_, _ = w.Write(encoded)
	w.WriteUint16(0)
}

func writeLength8(w *binio.Writer, n int) {
	if n > 0x7f {
		w.WriteUint8(uint8(0x80 | n>>8))
	}
	w.WriteUint8(uint8(n))
}

func (p *StringPool) stringBytes(s *StringItem) []byte {
	if s.raw == nil {
		w := binio.NewWriter(len(s.value) + 4)
		encodePoolString(w, s.value, p.IsUTF8())
		s.raw = w.Bytes()
	}
	return s.raw
}

// CountBytes returns the serialized size.
func (p *StringPool) CountBytes() int {
	items := p.Strings.Items()
	styles := p.styleCount()
	size := stringPoolHeaderSize + 4*len(items) + 4*styles
	data := 0
	for _, s := range items {
		data += len(p.stringBytes(s))
	}
	size += align4(data)
	if styles > 0 {
		for _, s := range items[:styles] {
			size += 12*len(s.Spans) + 4
		}
		size += 8
	}
	return size
}

// WriteTo serializes the pool.
func (p *StringPool) WriteTo(out io.Writer) (int64, error) {
	items := p.Strings.Items()
	styles := p.styleCount()
	total := p.CountBytes()

	w := binio.NewWriter(total)
	WriteHeader(w, TypeStringPool, stringPoolHeaderSize, total)
	w.WriteUint32(uint32(len(items)))
	w.WriteUint32(uint32(styles))
	w.WriteUint32(p.Flags)

	stringsStart := 0
	if len(items) > 0 {
		stringsStart = stringPoolHeaderSize + 4*len(items) + 4*styles
	}
	dataSize := 0
	for _, s := range items {
		dataSize += len(p.stringBytes(s))
	}
	stylesStart := 0
	if styles > 0 {
		stylesStart = stringPoolHeaderSize + 4*len(items) + 4*styles + align4(dataSize)
	}
	w.WriteUint32(uint32(stringsStart))
	w.WriteUint32(uint32(stylesStart))

	off := 0
	for _, s := range items {
		w.WriteUint32(uint32(off))
		off += len(p.stringBytes(s))
	}
	off = 0
	for _, s := range items[:styles] {
		w.WriteUint32(uint32(off))
		off += 12*len(s.Spans) + 4
	}
	for _, s := range items {
		_, _ = w.Write(p.stringBytes(s))
	}
	w.WriteZeros(align4(dataSize) - dataSize)
	if styles > 0 {
		for _, s := range items[:styles] {
			for _, span := range s.Spans {
				w.WriteUint32(p.Ref(span.Name))
				w.WriteUint32(span.FirstChar)
				w.WriteUint32(span.LastChar)
			}
			w.WriteUint32(spanEnd)
		}
		w.WriteUint32(spanEnd)
		w.WriteUint32(spanEnd)
	}

	n, err := out.Write(w.Bytes())
	return int64(n), err
}

func align4(n int) int {
	return (n + 3) &^ 3
}
