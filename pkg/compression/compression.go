// Package compression provides the ZIP entry codecs.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// Method is a ZIP compression method id.
type Method uint16

const (
	// Store keeps entry data uncompressed.
	Store Method = 0
	// Deflate compresses entry data with raw DEFLATE.
	Deflate Method = 8
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// Level represents the compression level.
type Level int

const (
	// LevelFastest prioritizes speed over compression ratio
	LevelFastest Level = 1
	// LevelDefault balances speed and compression ratio
	LevelDefault Level = 6
	// LevelBest prioritizes compression ratio over speed
	LevelBest Level = 9
)

// Compressor provides a unified interface for compression operations.
type Compressor interface {
	// Compress compresses the input data
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses the input data
	Decompress(data []byte) ([]byte, error)
	// NewReader wraps a compressed stream
	NewReader(r io.Reader) io.ReadCloser
	// Method returns the ZIP method id
	Method() Method
	// Name returns the human-readable name of the compressor
	Name() string
}

// ============================================================================
// Deflate Compressor
// ============================================================================

// DeflateCompressor implements Compressor with raw DEFLATE streams. Writers
// are pooled per compressor.
type DeflateCompressor struct {
	level   int
	writers sync.Pool
}

// NewDeflateCompressor creates a new deflate compressor.
func NewDeflateCompressor(level Level) *DeflateCompressor {
	flateLevel := flate.DefaultCompression
	switch level {
	case LevelFastest:
		flateLevel = flate.BestSpeed
	case LevelBest:
		flateLevel = flate.BestCompression
	default:
		if level >= 1 && level <= 9 {
			flateLevel = int(level)
		}
	}
	return &DeflateCompressor{level: flateLevel}
}

// Compress compresses data.
func (c *DeflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 64)

	var writer *flate.Writer
	if w, ok := c.writers.Get().(*flate.Writer); ok {
		writer = w
		writer.Reset(&buf)
	} else {
		w, err := flate.NewWriter(&buf, c.level)
		if err != nil {
			return nil, fmt.Errorf("failed to create deflate writer: %w", err)
		}
		writer = w
	}
	defer c.writers.Put(writer)

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write deflate data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close deflate writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses a raw DEFLATE stream.
func (c *DeflateCompressor) Decompress(data []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(data))
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate: %w", err)
	}
	return out, nil
}

// NewReader returns an inflating reader.
func (c *DeflateCompressor) NewReader(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}

// Method returns Deflate.
func (c *DeflateCompressor) Method() Method {
	return Deflate
}

// Name returns "deflate".
func (c *DeflateCompressor) Name() string {
	return "deflate"
}

// ============================================================================
// Store Compressor
// ============================================================================

// StoreCompressor passes data through unchanged.
type StoreCompressor struct{}

// NewStoreCompressor creates a new store compressor.
func NewStoreCompressor() *StoreCompressor {
	return &StoreCompressor{}
}

// Compress returns the data unchanged.
func (c *StoreCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns the data unchanged.
func (c *StoreCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// NewReader returns r unchanged.
func (c *StoreCompressor) NewReader(r io.Reader) io.ReadCloser {
	return io.NopCloser(r)
}

// Method returns Store.
func (c *StoreCompressor) Method() Method {
	return Store
}

// Name returns "store".
func (c *StoreCompressor) Name() string {
	return "store"
}

// ============================================================================
// Factory Functions
// ============================================================================

var (
	defaultDeflate = NewDeflateCompressor(LevelDefault)
	defaultStore   = NewStoreCompressor()
)

// ForMethod returns the shared compressor for a ZIP method.
func ForMethod(m Method) (Compressor, error) {
	switch m {
	case Store:
		return defaultStore, nil
	case Deflate:
		return defaultDeflate, nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", uint16(m))
	}
}

// New creates a compressor by method and level.
func New(m Method, level Level) (Compressor, error) {
	switch m {
	case Store:
		return NewStoreCompressor(), nil
	case Deflate:
		return NewDeflateCompressor(level), nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", uint16(m))
	}
}
