package dex

// RefKind is the pool an instruction operand indexes.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
	RefProto
	RefCallSite
	RefMethodHandle
)

func (k RefKind) String() string {
	switch k {
	case RefString:
		return "string"
	case RefType:
		return "type"
	case RefField:
		return "field"
	case RefMethod:
		return "method"
	case RefProto:
		return "proto"
	case RefCallSite:
		return "call_site"
	case RefMethodHandle:
		return "method_handle"
	default:
		return "none"
	}
}

type opInfo struct {
	units int
	ref   RefKind
	// wide operands span two code units (const-string/jumbo)
	wide bool
	// second operand of invoke-polymorphic
	protoAt int
}

var opcodes [256]opInfo

func setOps(from, to int, info opInfo) {
	for op := from; op <= to; op++ {
		opcodes[op] = info
	}
}

func init() {
	// 10x by default, which also covers the unused ranges.
	setOps(0x00, 0xff, opInfo{units: 1})

	setOps(0x01, 0x01, opInfo{units: 1})
	setOps(0x02, 0x02, opInfo{units: 2})
	setOps(0x03, 0x03, opInfo{units: 3})
	setOps(0x04, 0x04, opInfo{units: 1})
	setOps(0x05, 0x05, opInfo{units: 2})
	setOps(0x06, 0x06, opInfo{units: 3})
	setOps(0x07, 0x07, opInfo{units: 1})
	setOps(0x08, 0x08, opInfo{units: 2})
	setOps(0x09, 0x09, opInfo{units: 3})
	setOps(0x0a, 0x12, opInfo{units: 1})
	setOps(0x13, 0x13, opInfo{units: 2})
	setOps(0x14, 0x14, opInfo{units: 3})
	setOps(0x15, 0x16, opInfo{units: 2})
	setOps(0x17, 0x17, opInfo{units: 3})
	setOps(0x18, 0x18, opInfo{units: 5})
	setOps(0x19, 0x19, opInfo{units: 2})
	setOps(0x1a, 0x1a, opInfo{units: 2, ref: RefString})
	setOps(0x1b, 0x1b, opInfo{units: 3, ref: RefString, wide: true})
	setOps(0x1c, 0x1c, opInfo{units: 2, ref: RefType})
	setOps(0x1d, 0x1e, opInfo{units: 1})
	setOps(0x1f, 0x20, opInfo{units: 2, ref: RefType})
	setOps(0x21, 0x21, opInfo{units: 1})
	setOps(0x22, 0x23, opInfo{units: 2, ref: RefType})
	setOps(0x24, 0x25, opInfo{units: 3, ref: RefType})
	setOps(0x26, 0x26, opInfo{units: 3})
	setOps(0x27, 0x28, opInfo{units: 1})
	setOps(0x29, 0x29, opInfo{units: 2})
	setOps(0x2a, 0x2c, opInfo{units: 3})
	setOps(0x2d, 0x31, opInfo{units: 2})
	setOps(0x32, 0x3d, opInfo{units: 2})
	setOps(0x44, 0x51, opInfo{units: 2})
	setOps(0x52, 0x5f, opInfo{units: 2, ref: RefField})
	setOps(0x60, 0x6d, opInfo{units: 2, ref: RefField})
	setOps(0x6e, 0x72, opInfo{units: 3, ref: RefMethod})
	setOps(0x74, 0x78, opInfo{units: 3, ref: RefMethod})
	setOps(0x7b, 0x8f, opInfo{units: 1})
	setOps(0x90, 0xaf, opInfo{units: 2})
	setOps(0xb0, 0xcf, opInfo{units: 1})
	setOps(0xd0, 0xe2, opInfo{units: 2})
	setOps(0xfa, 0xfb, opInfo{units: 4, ref: RefMethod, protoAt: 3})
	setOps(0xfc, 0xfd, opInfo{units: 3, ref: RefCallSite})
	setOps(0xfe, 0xfe, opInfo{units: 2, ref: RefMethodHandle})
	setOps(0xff, 0xff, opInfo{units: 2, ref: RefProto})
}

// Pseudo-instruction idents carried in the high byte of a nop.
const (
	packedSwitchPayload = 0x0100
	sparseSwitchPayload = 0x0200
	fillArrayPayload    = 0x0300
)

// payloadUnits returns the length of the payload at insns[pc], or 0 when
// insns[pc] does not start a payload.
func payloadUnits(insns []uint16, pc int) (int, bool) {
	switch insns[pc] {
	case packedSwitchPayload:
		if pc+1 >= len(insns) {
			return 0, false
		}
		return int(insns[pc+1])*2 + 4, true
	case sparseSwitchPayload:
		if pc+1 >= len(insns) {
			return 0, false
		}
		return int(insns[pc+1])*4 + 2, true
	case fillArrayPayload:
		if pc+3 >= len(insns) {
			return 0, false
		}
		width := int(insns[pc+1])
		size := int(insns[pc+2]) | int(insns[pc+3])<<16
		return (size*width+1)/2 + 4, true
	}
	return 0, false
}
