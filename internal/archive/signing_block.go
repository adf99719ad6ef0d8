package archive

import (
	"bytes"
	"cmp"
	"io"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/internal/block"
	apperrors "github.com/antisplit/pkg/errors"
)

// Well-known signing block record ids.
const (
	SignatureV2ID     uint32 = 0x7109871a
	SignatureV3ID     uint32 = 0xf05368c0
	SignatureV31ID    uint32 = 0x1b93ad61
	SourceStampV2ID   uint32 = 0x6dff800d
	VerityPaddingID   uint32 = 0x42726577
	DependencyInfoID  uint32 = 0x504b4453
	signingBlockAlign        = 4096
	signingFooterSize        = 24
	signingRecordHead        = 12
)

// SigningBlockMagic ends every APK Signing Block.
var SigningBlockMagic = []byte("APK Sig Block 42")

// Record is one id/value pair of the signing block.
type Record struct {
	block.Node
	ID    uint32
	Value []byte
}

// CountBytes returns the encoded size.
func (r *Record) CountBytes() int { return signingRecordHead + len(r.Value) }

// WriteTo writes the length-prefixed record.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	bw := binio.NewWriter(r.CountBytes())
	bw.WriteUint64(uint64(4 + len(r.Value)))
	bw.WriteUint32(r.ID)
	_, _ = bw.Write(r.Value)
	n, err := w.Write(bw.Bytes())
	return int64(n), err
}

// SigningBlock is the APK Signing Block placed between the last local
// entry and the central directory.
type SigningBlock struct {
	Records *block.List[*Record]
}

// NewSigningBlock creates an empty block.
func NewSigningBlock() *SigningBlock {
	return &SigningBlock{Records: block.NewList[*Record](nil)}
}

// DecodeSigningBlock parses a complete block, both size fields and the
// magic included.
func DecodeSigningBlock(data []byte) (*SigningBlock, error) {
	if len(data) < 8+signingFooterSize {
		return nil, apperrors.Format("signing block of %d bytes is too short", len(data))
	}
	r := binio.NewReader(data)
	head, _ := r.ReadUint64()
	foot := binio.NewReader(data[len(data)-signingFooterSize:])
	tail, _ := foot.ReadUint64()
	magic, _ := foot.ReadBytes(len(SigningBlockMagic))
	if !bytes.Equal(magic, SigningBlockMagic) {
		return nil, apperrors.Format("signing block magic mismatch")
	}
	if head != tail || head != uint64(len(data)-8) {
		return nil, apperrors.Format("signing block sizes %d and %d do not match length %d", head, tail, len(data))
	}

	b := NewSigningBlock()
	end := len(data) - signingFooterSize
	for r.Pos() < end {
		length, err := r.ReadUint64()
		if err != nil || length < 4 || length > uint64(end-r.Pos()) {
			return nil, apperrors.Format("signing block record at %d has invalid length", r.Pos())
		}
		id, _ := r.ReadUint32()
		value, _ := r.ReadBytes(int(length) - 4)
		b.Records.Add(&Record{ID: id, Value: append([]byte(nil), value...)})
	}
	return b, nil
}

// Get returns the value of the first record with id.
func (b *SigningBlock) Get(id uint32) ([]byte, bool) {
	for _, r := range b.Records.Items() {
		if r.ID == id {
			return r.Value, true
		}
	}
	return nil, false
}

// Put replaces the value of the first record with id or appends a record.
func (b *SigningBlock) Put(id uint32, value []byte) {
	for _, r := range b.Records.Items() {
		if r.ID == id {
			r.Value = value
			b.Records.OnChanged()
			return
		}
	}
	b.Records.Add(&Record{ID: id, Value: value})
}

// Remove drops every record with id and returns how many were removed.
func (b *SigningBlock) Remove(id uint32) int {
	return b.Records.RemoveIf(func(r *Record) bool { return r.ID == id })
}

// UpdatePadding sorts the records by id and sizes the padding record so
// that the whole block is a multiple of 4096 bytes.
func (b *SigningBlock) UpdatePadding() {
	var pad *Record
	for _, r := range b.Records.Items() {
		if r.ID == VerityPaddingID {
			pad = r
			break
		}
	}
	if pad == nil {
		pad = &Record{ID: VerityPaddingID}
		b.Records.Add(pad)
	}
	pad.Value = nil
	b.Records.Sort(func(x, y *Record) int { return cmp.Compare(x.ID, y.ID) })
	b.Records.Refresh()
	size := b.CountBytes()
	pad.Value = make([]byte, (signingBlockAlign-size%signingBlockAlign)%signingBlockAlign)
	b.Records.Refresh()
}

// CountBytes returns the encoded size of the whole block.
func (b *SigningBlock) CountBytes() int {
	return 8 + b.Records.CountBytes() + signingFooterSize
}

// Bytes encodes the block.
func (b *SigningBlock) Bytes() []byte {
	size := b.CountBytes()
	w := binio.NewWriter(size)
	w.WriteUint64(uint64(size - 8))
	_, _ = b.Records.WriteTo(w)
	w.WriteUint64(uint64(size - 8))
	_, _ = w.Write(SigningBlockMagic)
	return w.Bytes()
}
