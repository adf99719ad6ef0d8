package archive

import (
	"hash/crc32"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/pkg/compression"
	apperrors "github.com/antisplit/pkg/errors"
)

const (
	alignmentExtraID  = 0xD935
	alignmentExtraMin = 6
	zipVersion        = 20
	flagUTF8          = 0x0800

	// 1981-01-01 00:00:00 in DOS format.
	dosDate uint16 = (1981-1980)<<9 | 1<<5 | 1
	dosTime uint16 = 0
)

// WriterOptions configures entry alignment and compression.
type WriterOptions struct {
	// StoreAlignment aligns the data of stored entries.
	StoreAlignment int
	// NativeLibAlignment aligns the data of stored .so entries.
	NativeLibAlignment int
	Level              compression.Level
}

// DefaultWriterOptions returns 4-byte alignment for stored entries and
// 4096-byte alignment for stored native libraries.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{StoreAlignment: 4, NativeLibAlignment: 4096, Level: compression.LevelDefault}
}

type centralEntry struct {
	name             string
	flags            uint16
	method           compression.Method
	crc              uint32
	compressedSize   uint64
	uncompressedSize uint64
	offset           int64
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Writer writes an archive in the order local entries, optional signing
// block, central directory, end record. All timestamps are fixed so the
// output depends on content only.
type Writer struct {
	cw      *countWriter
	opts    WriterOptions
	deflate compression.Compressor
	entries []*centralEntry
	names   map[string]bool
	block   *SigningBlock
	closed  bool
}

// NewWriter creates a writer over w.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.StoreAlignment <= 0 {
		opts.StoreAlignment = 1
	}
	if opts.NativeLibAlignment <= 0 {
		opts.NativeLibAlignment = opts.StoreAlignment
	}
	return &Writer{
		cw:      &countWriter{w: w},
		opts:    opts,
		deflate: compression.NewDeflateCompressor(opts.Level),
		names:   map[string]bool{},
	}
}

// SetSigningBlock places b before the central directory on Close.
func (w *Writer) SetSigningBlock(b *SigningBlock) {
	w.block = b
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 {
	return w.cw.n
}

// WriteEntry compresses data with method and appends it as name.
func (w *Writer) WriteEntry(name string, method compression.Method, data []byte) error {
	var c compression.Compressor = compression.NewStoreCompressor()
	if method == compression.Deflate {
		c = w.deflate
	} else if method != compression.Store {
		return apperrors.Format("entry %s: unsupported method %d", name, uint16(method))
	}
	payload, err := c.Compress(data)
	if err != nil {
		return apperrors.Wrapf(apperrors.CodeIOError, err, "compress %s", name)
	}
	e := &centralEntry{
		name:             name,
		method:           method,
		crc:              crc32.ChecksumIEEE(data),
		compressedSize:   uint64(len(payload)),
		uncompressedSize: uint64(len(data)),
	}
	return w.writeLocal(e, func(out io.Writer) error {
		_, err := out.Write(payload)
		return err
	})
}

// CopyEntry appends src without recompressing it.
func (w *Writer) CopyEntry(src *Entry) error {
	return w.CopyEntryAs(src.Name, src)
}

// CopyEntryAs appends src under a new name without recompressing it.
func (w *Writer) CopyEntryAs(name string, src *Entry) error {
	raw, err := src.OpenRaw()
	if err != nil {
		return err
	}
	e := &centralEntry{
		name:             name,
		method:           src.Method,
		crc:              src.CRC32,
		compressedSize:   src.CompressedSize,
		uncompressedSize: src.UncompressedSize,
	}
	return w.writeLocal(e, func(out io.Writer) error {
		n, err := io.Copy(out, raw)
		if err == nil && uint64(n) != src.CompressedSize {
			return apperrors.Format("entry %s: copied %d of %d bytes", name, n, src.CompressedSize)
		}
		return err
	})
}

func (w *Writer) alignment(e *centralEntry) int {
	if e.method != compression.Store {
		return 0
	}
	if strings.HasSuffix(e.name, ".so") {
		return w.opts.NativeLibAlignment
	}
	return w.opts.StoreAlignment
}

func (w *Writer) writeLocal(e *centralEntry, body func(io.Writer) error) error {
	if w.closed {
		return apperrors.Newf(apperrors.CodeInvalidInput, "write %s after close", e.name)
	}
	if w.names[e.name] {
		return apperrors.Conflict("duplicate archive entry %s", e.name)
	}
	if e.compressedSize >= 0xFFFFFFFF || e.uncompressedSize >= 0xFFFFFFFF || w.cw.n >= 0xFFFFFFFF {
		return apperrors.Format("entry %s needs zip64", e.name)
	}
	if !utf8.ValidString(e.name) {
		return apperrors.Format("entry name %q is not valid UTF-8", e.name)
	}
	for _, r := range e.name {
		if r >= 0x80 {
			e.flags |= flagUTF8
			break
		}
	}
	w.names[e.name] = true
	e.offset = w.cw.n

	var extra []byte
	if align := w.alignment(e); align > 1 {
		base := int(e.offset) + localHeaderLen + len(e.name) + alignmentExtraMin
		pad := (align - base%align) % align
		ew := binio.NewWriter(alignmentExtraMin + pad)
		ew.WriteUint16(alignmentExtraID)
		ew.WriteUint16(uint16(2 + pad))
		ew.WriteUint16(uint16(align))
		ew.WriteZeros(pad)
		extra = ew.Bytes()
	}

	h := binio.NewWriter(localHeaderLen + len(e.name) + len(extra))
	h.WriteUint32(localHeaderSig)
	h.WriteUint16(zipVersion)
	h.WriteUint16(e.flags)
	h.WriteUint16(uint16(e.method))
	h.WriteUint16(dosTime)
	h.WriteUint16(dosDate)
	h.WriteUint32(e.crc)
	h.WriteUint32(uint32(e.compressedSize))
	h.WriteUint32(uint32(e.uncompressedSize))
	h.WriteUint16(uint16(len(e.name)))
	h.WriteUint16(uint16(len(extra)))
	_, _ = h.Write([]byte(e.name))
	_, _ = h.Write(extra)
	if _, err := w.cw.Write(h.Bytes()); err != nil {
		return apperrors.IO(err, "write header of %s", e.name)
	}
	if err := body(w.cw); err != nil {
		if apperrors.GetErrorCode(err) != apperrors.CodeUnknown {
			return err
		}
		return apperrors.IO(err, "write %s", e.name)
	}
	w.entries = append(w.entries, e)
	return nil
}

// Close writes the signing block, central directory and end record. It
// does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.entries) >= 0xFFFF {
		return apperrors.Format("%d entries need zip64", len(w.entries))
	}
	if w.block != nil {
		if _, err := w.cw.Write(w.block.Bytes()); err != nil {
			return apperrors.IO(err, "write signing block")
		}
	}

	cdOffset := w.cw.n
	cd := binio.NewWriter(len(w.entries) * (centralHeaderLen + 32))
	for _, e := range w.entries {
		cd.WriteUint32(centralHeaderSig)
		cd.WriteUint16(zipVersion)
		cd.WriteUint16(zipVersion)
		cd.WriteUint16(e.flags)
		cd.WriteUint16(uint16(e.method))
		cd.WriteUint16(dosTime)
		cd.WriteUint16(dosDate)
		cd.WriteUint32(e.crc)
		cd.WriteUint32(uint32(e.compressedSize))
		cd.WriteUint32(uint32(e.uncompressedSize))
		cd.WriteUint16(uint16(len(e.name)))
		cd.WriteUint16(0)
		cd.WriteUint16(0)
		cd.WriteUint16(0)
		cd.WriteUint16(0)
		cd.WriteUint32(0)
		cd.WriteUint32(uint32(e.offset))
		_, _ = cd.Write([]byte(e.name))
	}
	if cdOffset+int64(cd.Len()) >= 0xFFFFFFFF {
		return apperrors.Format("central directory offset %d needs zip64", cdOffset)
	}

	eocd := binio.NewWriter(eocdLen)
	eocd.WriteUint32(eocdSig)
	eocd.WriteUint16(0)
	eocd.WriteUint16(0)
	eocd.WriteUint16(uint16(len(w.entries)))
	eocd.WriteUint16(uint16(len(w.entries)))
	eocd.WriteUint32(uint32(cd.Len()))
	eocd.WriteUint32(uint32(cdOffset))
	eocd.WriteUint16(0)

	if _, err := w.cw.Write(cd.Bytes()); err != nil {
		return apperrors.IO(err, "write central directory")
	}
	if _, err := w.cw.Write(eocd.Bytes()); err != nil {
		return apperrors.IO(err, "write end record")
	}
	return nil
}

// MethodFor returns the compression method for a merged entry: stored for
// resources.arsc and for inputs that were stored, deflate otherwise.
func MethodFor(name string, original compression.Method) compression.Method {
	if name == "resources.arsc" {
		return compression.Store
	}
	if original == compression.Store {
		return compression.Store
	}
	return compression.Deflate
}
