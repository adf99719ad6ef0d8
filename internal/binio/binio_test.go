package binio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderWriter_Fixed(t *testing.T) {
	w := NewWriter(0)
	w.WriteUint8(0xAB)
	w.WriteUint16(0x1234)
	w.WriteUint32(0xDEADBEEF)
	w.WriteUint64(0x0102030405060708)

	r := NewReader(w.Bytes())
	b, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), b)
	u16, _ := r.ReadUint16()
	assert.Equal(t, uint16(0x1234), u16)
	u32, _ := r.ReadUint32()
	assert.Equal(t, uint32(0xDEADBEEF), u32)
	u64, _ := r.ReadUint64()
	assert.Equal(t, uint64(0x0102030405060708), u64)
	assert.Equal(t, 0, r.Len())

	_, err = r.ReadUint8()
	assert.True(t, errors.Is(err, ErrShortBuffer))
}

func TestLEB128(t *testing.T) {
	tests := []struct {
		name    string
		value   int32
		encoded []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"one", 1, []byte{0x01}},
		{"minus one", -1, []byte{0x7f}},
		{"128", 128, []byte{0x80, 0x01}},
		{"-128", -128, []byte{0x80, 0x7f}},
		{"large", 0x7fffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(0)
			w.WriteSLEB128(tt.value)
			assert.Equal(t, tt.encoded, w.Bytes())

			v, err := NewReader(w.Bytes()).ReadSLEB128()
			require.NoError(t, err)
			assert.Equal(t, tt.value, v)
		})
	}

	t.Run("unsigned", func(t *testing.T) {
		for _, v := range []uint32{0, 1, 127, 128, 16384, 0xffffffff} {
			w := NewWriter(0)
			w.WriteULEB128(v)
			assert.Equal(t, ULEB128Size(v), w.Len())
			got, err := NewReader(w.Bytes()).ReadULEB128()
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})

	t.Run("p1", func(t *testing.T) {
		w := NewWriter(0)
		w.WriteULEB128p1(-1)
		w.WriteULEB128p1(41)
		r := NewReader(w.Bytes())
		a, _ := r.ReadULEB128p1()
		b, _ := r.ReadULEB128p1()
		assert.Equal(t, int64(-1), a)
		assert.Equal(t, int64(41), b)
	})
}

func TestWriter_AlignAndPatch(t *testing.T) {
	w := NewWriter(0)
	w.WriteUint8(1)
	w.Align(4)
	assert.Equal(t, 4, w.Len())
	w.WriteUint32(0)
	w.PutUint32At(4, 7)
	w.PutUint16At(0, 0xFFFF)
	assert.Equal(t, []byte{0xff, 0xff, 0, 0, 7, 0, 0, 0}, w.Bytes())
}

func TestReader_SubAndSeek(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	sub, err := r.Sub(3)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.Len())
	assert.Equal(t, 3, r.Pos())
	assert.Error(t, r.Seek(6))
	require.NoError(t, r.Seek(1))
	_, err = r.ReadBytes(5)
	assert.Error(t, err)
}
