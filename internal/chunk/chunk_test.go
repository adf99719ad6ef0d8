package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antisplit/internal/binio"
	apperrors "github.com/antisplit/pkg/errors"
)

func buildPool(utf8 bool) *StringPool {
	p := NewStringPool(utf8)
	bold := p.Intern("b")
	styled := p.AddStyled("hello world", []Span{{Name: bold, FirstChar: 0, LastChar: 4}})
	_ = styled
	p.Intern("plain")
	p.Intern(strings.Repeat("x", 300))
	p.Intern("ünïcødé ✓")
	p.Intern("")
	return p
}

func TestStringPool_RoundTrip(t *testing.T) {
	for _, utf8 := range []bool{true, false} {
		name := "utf16"
		if utf8 {
			name = "utf8"
		}
		t.Run(name, func(t *testing.T) {
			p := buildPool(utf8)
			first, err := Encode(p)
			require.NoError(t, err)
			assert.Equal(t, 0, len(first)%4)

			decoded, err := DecodeStringPool(binio.NewReader(first))
			require.NoError(t, err)
			assert.Equal(t, p.Len(), decoded.Len())
			assert.Equal(t, utf8, decoded.IsUTF8())

			for i := 0; i < p.Len(); i++ {
				assert.Equal(t, p.Value(i), decoded.Value(i))
			}
			styled := decoded.Get(0)
			require.Len(t, styled.Spans, 1)
			assert.Equal(t, "b", styled.Spans[0].Name.Value())
			assert.Equal(t, uint32(4), styled.Spans[0].LastChar)

			second, err := Encode(decoded)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestStringPool_InternDedup(t *testing.T) {
	p := NewStringPool(true)
	values := []string{"a", "b", "a", "c", "b", "a"}
	handles := make(map[string]*StringItem)
	for _, v := range values {
		s := p.Intern(v)
		if prev, ok := handles[v]; ok {
			assert.Same(t, prev, s)
		}
		handles[v] = s
	}
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, uint32(2), p.Ref(handles["c"]))
}

func TestStringPool_AddStyledShiftsHandles(t *testing.T) {
	p := NewStringPool(true)
	plain := p.Intern("plain")
	assert.Equal(t, uint32(0), p.Ref(plain))

	p.AddStyled("styled", nil)
	assert.Equal(t, uint32(1), p.Ref(plain))
	assert.Same(t, plain, p.Intern("plain"))
	assert.Equal(t, 1, p.styleCount())
}

func TestStringPool_RefForeignPanics(t *testing.T) {
	a := NewStringPool(true)
	b := NewStringPool(true)
	s := a.Intern("x")
	assert.Panics(t, func() { b.Ref(s) })
	assert.Equal(t, NoIndex, b.Ref(nil))
}

func TestStringPool_SetValueReencodes(t *testing.T) {
	p := NewStringPool(false)
	s := p.Intern("abc")
	before := p.CountBytes()
	s.SetValue("abcdefgh")
	p.Strings.Refresh()
	assert.Greater(t, p.CountBytes(), before)

	data, err := Encode(p)
	require.NoError(t, err)
	decoded, err := DecodeStringPool(binio.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", decoded.Value(0))
}

func TestPeekHeader_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", []byte{1, 0, 8}},
		{"size overrun", []byte{1, 0, 8, 0, 64, 0, 0, 0}},
		{"header larger than chunk", []byte{1, 0, 16, 0, 8, 0, 0, 0}},
		{"header too small", []byte{1, 0, 4, 0, 8, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PeekHeader(binio.NewReader(tt.data))
			require.Error(t, err)
			assert.True(t, apperrors.IsFormatError(err))
		})
	}
}

func TestRaw_RoundTrip(t *testing.T) {
	w := binio.NewWriter(0)
	WriteHeader(w, 0x0777, 12, 16)
	w.WriteUint32(0xCAFEBABE)
	w.WriteUint32(0x01020304)

	raw, err := DecodeRaw(binio.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0777), raw.Type())
	assert.Equal(t, 16, raw.CountBytes())

	out, err := Encode(raw)
	require.NoError(t, err)
	assert.Equal(t, w.Bytes(), out)
}

func TestValue_StringHandle(t *testing.T) {
	p := NewStringPool(true)
	p.Intern("zero")
	s := p.Intern("one")

	w := binio.NewWriter(0)
	Value{DataType: DataString, Str: s}.Encode(w, p)
	Value{DataType: DataIntBoolean, Data: 1}.Encode(w, p)

	r := binio.NewReader(w.Bytes())
	v, err := DecodeValue(r, p)
	require.NoError(t, err)
	assert.Same(t, s, v.Str)
	assert.Equal(t, uint16(ValueSize), v.Size)
	assert.Equal(t, "one", v.String())

	b, err := DecodeValue(r, p)
	require.NoError(t, err)
	assert.Equal(t, "true", b.String())

	bad := binio.NewWriter(0)
	Value{DataType: DataString, Data: 9}.Encode(bad, p)
	_, err = DecodeValue(binio.NewReader(bad.Bytes()), p)
	assert.Error(t, err)
}
