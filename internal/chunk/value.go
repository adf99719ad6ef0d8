package chunk

import (
	"fmt"
	"math"

	"github.com/antisplit/internal/binio"
)

// Res_value data types.
const (
	DataNull             uint8 = 0x00
	DataReference        uint8 = 0x01
	DataAttribute        uint8 = 0x02
	DataString           uint8 = 0x03
	DataFloat            uint8 = 0x04
	DataDimension        uint8 = 0x05
	DataFraction         uint8 = 0x06
	DataDynamicReference uint8 = 0x07
	DataDynamicAttribute uint8 = 0x08
	DataIntDec           uint8 = 0x10
	DataIntHex           uint8 = 0x11
	DataIntBoolean       uint8 = 0x12
	DataColorARGB8       uint8 = 0x1c
	DataColorRGB8        uint8 = 0x1d
	DataColorARGB4       uint8 = 0x1e
	DataColorRGB4        uint8 = 0x1f
)

// ValueSize is the encoded size of a Value.
const ValueSize = 8

// Value is a typed resource value. When DataType is DataString the string is
// held as a pool handle in Str and Data is ignored on encode.
type Value struct {
	Size     uint16
	Res0     uint8
	DataType uint8
	Data     uint32
	Str      *StringItem
}

// DecodeValue reads a Value, resolving string data against pool.
func DecodeValue(r *binio.Reader, pool *StringPool) (Value, error) {
	b, err := r.ReadBytes(ValueSize)
	if err != nil {
		return Value{}, err
	}
	v := Value{
		Size:     uint16(b[0]) | uint16(b[1])<<8,
		Res0:     b[2],
		DataType: b[3],
		Data:     uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24,
	}
	if v.DataType == DataString && pool != nil {
		v.Str = pool.Get(int(v.Data))
		if v.Str == nil {
			return v, fmt.Errorf("string value index %d outside pool of %d", v.Data, pool.Len())
		}
	}
	return v, nil
}

// Encode appends the value, resolving its string handle against pool.
func (v Value) Encode(w *binio.Writer, pool *StringPool) {
	size := v.Size
	if size == 0 {
		size = ValueSize
	}
	data := v.Data
	if v.DataType == DataString && v.Str != nil {
		data = pool.Ref(v.Str)
	}
	w.WriteUint16(size)
	w.WriteUint8(v.Res0)
	w.WriteUint8(v.DataType)
	w.WriteUint32(data)
}

// String renders the value for inspection output.
func (v Value) String() string {
	switch v.DataType {
	case DataNull:
		return "null"
	case DataString:
		if v.Str != nil {
			return v.Str.Value()
		}
		return fmt.Sprintf("string#%d", v.Data)
	case DataReference, DataDynamicReference:
		return fmt.Sprintf("@0x%08x", v.Data)
	case DataAttribute, DataDynamicAttribute:
		return fmt.Sprintf("?0x%08x", v.Data)
	case DataIntBoolean:
		if v.Data != 0 {
			return "true"
		}
		return "false"
	case DataIntDec:
		return fmt.Sprintf("%d", int32(v.Data))
	case DataFloat:
		return fmt.Sprintf("%g", math.Float32frombits(v.Data))
	default:
		return fmt.Sprintf("0x%08x", v.Data)
	}
}
