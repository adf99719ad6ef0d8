package archive

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/antisplit/pkg/compression"
	apperrors "github.com/antisplit/pkg/errors"
)

// Entry is a file inside an archive.
type Entry struct {
	Name             string
	Method           compression.Method
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	file             *zip.File
}

// Open returns a reader over the uncompressed data.
func (e *Entry) Open() (io.ReadCloser, error) {
	rc, err := e.file.Open()
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeFormatError, err, "open %s", e.Name)
	}
	return rc, nil
}

// OpenRaw returns a reader over the stored, possibly compressed, bytes.
func (e *Entry) OpenRaw() (io.Reader, error) {
	r, err := e.file.OpenRaw()
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeFormatError, err, "open raw %s", e.Name)
	}
	return r, nil
}

// Read returns the uncompressed data.
func (e *Entry) Read() ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeFormatError, err, "read %s", e.Name)
	}
	return data, nil
}

// Reader gives access to the entries of a ZIP archive.
type Reader struct {
	Layout  *Layout
	zr      *zip.Reader
	ra      io.ReaderAt
	closer  io.Closer
	entries []*Entry
	byName  map[string]*Entry
}

// Open opens an archive file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.IO(err, "open %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.IO(err, "stat %s", path)
	}
	r, err := NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// OpenBytes opens an archive held in memory, such as an APK nested in a
// bundle.
func OpenBytes(data []byte) (*Reader, error) {
	return NewReader(bytes.NewReader(data), int64(len(data)))
}

// NewReader reads the archive directory from ra.
func NewReader(ra io.ReaderAt, size int64) (*Reader, error) {
	layout, err := ReadLayout(ra, size)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeFormatError, err, "read zip directory")
	}
	r := &Reader{
		Layout: layout,
		zr:     zr,
		ra:     ra,
		byName: make(map[string]*Entry, len(zr.File)),
	}
	for _, f := range zr.File {
		if f.CompressedSize64 >= 0xFFFFFFFF || f.UncompressedSize64 >= 0xFFFFFFFF {
			return nil, apperrors.Format("entry %s needs zip64", f.Name)
		}
		e := &Entry{
			Name:             f.Name,
			Method:           compression.Method(f.Method),
			CRC32:            f.CRC32,
			CompressedSize:   f.CompressedSize64,
			UncompressedSize: f.UncompressedSize64,
			file:             f,
		}
		r.entries = append(r.entries, e)
		if _, dup := r.byName[e.Name]; !dup {
			r.byName[e.Name] = e
		}
	}
	return r, nil
}

// Entries returns the entries in central directory order.
func (r *Reader) Entries() []*Entry {
	return r.entries
}

// Entry returns the first entry named name, or nil.
func (r *Reader) Entry(name string) *Entry {
	return r.byName[name]
}

// ReadFile returns the uncompressed data of name.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	e := r.Entry(name)
	if e == nil {
		return nil, apperrors.Wrapf(apperrors.CodeNotFound, os.ErrNotExist, "entry %s", name)
	}
	return e.Read()
}

// Match returns the entries whose name satisfies pred.
func (r *Reader) Match(pred func(name string) bool) []*Entry {
	var out []*Entry
	for _, e := range r.entries {
		if pred(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// SigningBlock returns the archive's signing block, or nil.
func (r *Reader) SigningBlock() (*SigningBlock, error) {
	return ReadSigningBlock(r.ra, r.Layout)
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// IsSignatureFile reports whether name is a JAR signature file or source
// stamp that becomes invalid once the archive is rewritten.
func IsSignatureFile(name string) bool {
	if name == "stamp-cert-sha256" {
		return true
	}
	if !strings.HasPrefix(name, "META-INF/") {
		return false
	}
	base := strings.ToUpper(strings.TrimPrefix(name, "META-INF/"))
	if strings.Contains(base, "/") {
		return false
	}
	if base == "MANIFEST.MF" {
		return true
	}
	for _, ext := range []string{".SF", ".RSA", ".DSA", ".EC"} {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return strings.HasPrefix(base, "SIG-")
}
