package binio

import "encoding/binary"

// Writer appends little-endian values to a growing byte slice.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Write appends b. It never fails.
func (w *Writer) Write(b []byte) (int, error) {
	w.buf = append(w.buf, b...)
	return len(b), nil
}

// WriteUint8 appends a byte.
func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteUint16 appends a little-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteUint32 appends a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteUint64 appends a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteZeros appends n zero bytes.
func (w *Writer) WriteZeros(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// Align pads with zeros until Len is a multiple of n.
func (w *Writer) Align(n int) {
	if rem := len(w.buf) % n; rem != 0 {
		w.WriteZeros(n - rem)
	}
}

// PutUint16At overwrites a uint16 at offset off.
func (w *Writer) PutUint16At(off int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf[off:], v)
}

// PutUint32At overwrites a uint32 at offset off.
func (w *Writer) PutUint32At(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[off:], v)
}

// WriteULEB128 appends an unsigned LEB128 value.
func (w *Writer) WriteULEB128(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			w.buf = append(w.buf, b|0x80)
			continue
		}
		w.buf = append(w.buf, b)
		return
	}
}

// WriteSLEB128 appends a signed LEB128 value.
func (w *Writer) WriteSLEB128(v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.buf = append(w.buf, b)
			return
		}
		w.buf = append(w.buf, b|0x80)
	}
}

// WriteULEB128p1 appends v+1 as unsigned LEB128; -1 encodes NO_INDEX.
func (w *Writer) WriteULEB128p1(v int64) {
	w.WriteULEB128(uint32(v + 1))
}

// ULEB128Size returns the encoded size of v.
func ULEB128Size(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
