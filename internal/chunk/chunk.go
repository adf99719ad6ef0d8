// Package chunk implements the chunk header, opaque chunks, typed values and
// the string pool shared by the binary XML and resource table codecs.
package chunk

import (
	"fmt"
	"io"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/internal/block"
	apperrors "github.com/antisplit/pkg/errors"
)

// Chunk type tags.
const (
	TypeNull              uint16 = 0x0000
	TypeStringPool        uint16 = 0x0001
	TypeTable             uint16 = 0x0002
	TypeXML               uint16 = 0x0003
	TypeXMLStartNamespace uint16 = 0x0100
	TypeXMLEndNamespace   uint16 = 0x0101
	TypeXMLStartElement   uint16 = 0x0102
	TypeXMLEndElement     uint16 = 0x0103
	TypeXMLCData          uint16 = 0x0104
	TypeXMLResourceMap    uint16 = 0x0180
	TypeTablePackage      uint16 = 0x0200
	TypeTableType         uint16 = 0x0201
	TypeTableTypeSpec     uint16 = 0x0202
	TypeTableLibrary      uint16 = 0x0203
	TypeTableOverlayable  uint16 = 0x0204
	TypeTableStagedAlias  uint16 = 0x0206
)

// HeaderSize is the size of the common chunk header.
const HeaderSize = 8

// NoIndex marks an absent pool reference.
const NoIndex uint32 = 0xFFFFFFFF

// Header is the common prefix of every chunk.
type Header struct {
	Type       uint16
	HeaderSize uint16
	Size       uint32
}

// PeekHeader reads the header at the reader position without consuming it and
// checks that the declared sizes fit in the remaining bytes.
func PeekHeader(r *binio.Reader) (Header, error) {
	start := r.Pos()
	var h Header
	var err error
	if h.Type, err = r.ReadUint16(); err != nil {
		return h, apperrors.Format("chunk header at %d: %v", start, err)
	}
	if h.HeaderSize, err = r.ReadUint16(); err != nil {
		return h, apperrors.Format("chunk header at %d: %v", start, err)
	}
	if h.Size, err = r.ReadUint32(); err != nil {
		return h, apperrors.Format("chunk header at %d: %v", start, err)
	}
	_ = r.Seek(start)

	if h.HeaderSize < HeaderSize || uint32(h.HeaderSize) > h.Size {
		return h, apperrors.Format("chunk 0x%04x at %d: header size %d invalid for size %d", h.Type, start, h.HeaderSize, h.Size)
	}
	if int64(h.Size) > int64(r.Len()) {
		return h, apperrors.Format("chunk 0x%04x at %d: size %d exceeds remaining %d bytes", h.Type, start, h.Size, r.Len())
	}
	return h, nil
}

// ReadChunk returns a reader over the whole chunk at the reader position and
// advances past it.
func ReadChunk(r *binio.Reader) (Header, *binio.Reader, error) {
	h, err := PeekHeader(r)
	if err != nil {
		return h, nil, err
	}
	sub, err := r.Sub(int(h.Size))
	if err != nil {
		return h, nil, apperrors.Format("chunk 0x%04x: %v", h.Type, err)
	}
	return h, sub, nil
}

// WriteHeader appends a chunk header.
func WriteHeader(w *binio.Writer, typ uint16, headerSize uint16, size int) {
	w.WriteUint16(typ)
	w.WriteUint16(headerSize)
	w.WriteUint32(uint32(size))
}

// Chunk is a serializable element of a chunk tree.
type Chunk interface {
	block.Element
	Type() uint16
	CountBytes() int
	WriteTo(w io.Writer) (int64, error)
}

// Raw is a chunk kept verbatim, used for chunk kinds the codecs do not model.
type Raw struct {
	block.Node
	Header Header
	// Body holds every byte after the 8-byte common header.
	Body []byte
}

// DecodeRaw reads the chunk at the reader position verbatim.
func DecodeRaw(r *binio.Reader) (*Raw, error) {
	h, sub, err := ReadChunk(r)
	if err != nil {
		return nil, err
	}
	_ = sub.Skip(HeaderSize)
	body, _ := sub.ReadBytes(sub.Len())
	return &Raw{Header: h, Body: append([]byte(nil), body...)}, nil
}

// Type returns the chunk type tag.
func (c *Raw) Type() uint16 { return c.Header.Type }

// CountBytes returns the serialized size.
func (c *Raw) CountBytes() int { return HeaderSize + len(c.Body) }

// WriteTo writes the chunk unchanged.
func (c *Raw) WriteTo(w io.Writer) (int64, error) {
	bw := binio.NewWriter(c.CountBytes())
	WriteHeader(bw, c.Header.Type, c.Header.HeaderSize, c.CountBytes())
	_, _ = bw.Write(c.Body)
	n, err := w.Write(bw.Bytes())
	return int64(n), err
}

// Encode serializes any chunk into a fresh byte slice.
func Encode(c Chunk) ([]byte, error) {
	w := binio.NewWriter(c.CountBytes())
	if _, err := c.WriteTo(w); err != nil {
		return nil, err
	}
	if w.Len() != c.CountBytes() {
		return nil, fmt.Errorf("chunk 0x%04x wrote %d bytes, expected %d", c.Type(), w.Len(), c.CountBytes())
	}
	return w.Bytes(), nil
}
