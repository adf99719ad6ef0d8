// Package binio provides little-endian readers and writers over byte slices
// for the APK chunk and DEX codecs.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a read runs past the end of the data.
var ErrShortBuffer = errors.New("unexpected end of data")

// Reader reads little-endian values from a byte slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a new Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Size returns the total size of the underlying data.
func (r *Reader) Size() int {
	return len(r.buf)
}

// Bytes returns the whole underlying slice.
func (r *Reader) Bytes() []byte {
	return r.buf
}

// Seek moves the read offset to pos.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return fmt.Errorf("seek to %d outside [0,%d]: %w", pos, len(r.buf), ErrShortBuffer)
	}
	r.pos = pos
	return nil
}

// Skip advances the read offset by n bytes.
func (r *Reader) Skip(n int) error {
	return r.Seek(r.pos + n)
}

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return fmt.Errorf("read %d bytes at offset %d of %d: %w", n, r.pos, len(r.buf), ErrShortBuffer)
	}
	return nil
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Sub returns a Reader over the next n bytes and advances past them.
func (r *Reader) Sub(n int) (*Reader, error) {
	b, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadULEB128 reads an unsigned LEB128 value of at most five bytes.
func (r *Reader) ReadULEB128() (uint32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, fmt.Errorf("uleb128 at offset %d is longer than 5 bytes", r.pos)
}

// ReadSLEB128 reads a signed LEB128 value of at most five bytes.
func (r *Reader) ReadSLEB128() (int32, error) {
	var result int32
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, fmt.Errorf("sleb128 at offset %d is longer than 5 bytes", r.pos)
}

// ReadULEB128p1 reads a uleb128p1 value: the encoded value minus one, so that
// the NO_INDEX marker decodes to -1.
func (r *Reader) ReadULEB128p1() (int64, error) {
	v, err := r.ReadULEB128()
	if err != nil {
		return 0, err
	}
	return int64(v) - 1, nil
}
