// Package dex reads Dalvik executables into an index-free model, interns
// the classes of several files into one ClassPool and writes the pool back
// as a single dex file.
package dex

const (
	headerSize = 0x70
	endianTag  = 0x12345678
	noIndex    = 0xFFFFFFFF

	// MaxIndex is the number of methods, fields, types or protos one dex
	// file can address.
	MaxIndex = 0x10000
)

// Map item type codes.
const (
	typeHeaderItem            uint16 = 0x0000
	typeStringIDItem          uint16 = 0x0001
	typeTypeIDItem            uint16 = 0x0002
	typeProtoIDItem           uint16 = 0x0003
	typeFieldIDItem           uint16 = 0x0004
	typeMethodIDItem          uint16 = 0x0005
	typeClassDefItem          uint16 = 0x0006
	typeCallSiteIDItem        uint16 = 0x0007
	typeMethodHandleItem      uint16 = 0x0008
	typeMapList               uint16 = 0x1000
	typeTypeList              uint16 = 0x1001
	typeAnnotationSetRefList  uint16 = 0x1002
	typeAnnotationSetItem     uint16 = 0x1003
	typeClassDataItem         uint16 = 0x2000
	typeCodeItem              uint16 = 0x2001
	typeStringDataItem        uint16 = 0x2002
	typeDebugInfoItem         uint16 = 0x2003
	typeAnnotationItem        uint16 = 0x2004
	typeEncodedArrayItem      uint16 = 0x2005
	typeAnnotationsDirectory  uint16 = 0x2006
	typeHiddenapiClassDataItm uint16 = 0xF000
)

// Encoded value types.
const (
	ValueByte         uint8 = 0x00
	ValueShort        uint8 = 0x02
	ValueChar         uint8 = 0x03
	ValueInt          uint8 = 0x04
	ValueLong         uint8 = 0x06
	ValueFloat        uint8 = 0x10
	ValueDouble       uint8 = 0x11
	ValueMethodType   uint8 = 0x15
	ValueMethodHandle uint8 = 0x16
	ValueString       uint8 = 0x17
	ValueType         uint8 = 0x18
	ValueField        uint8 = 0x19
	ValueMethod       uint8 = 0x1a
	ValueEnum         uint8 = 0x1b
	ValueArray        uint8 = 0x1c
	ValueAnnotation   uint8 = 0x1d
	ValueNull         uint8 = 0x1e
	ValueBoolean      uint8 = 0x1f
)

// Debug info opcodes.
const (
	dbgEndSequence        = 0x00
	dbgAdvancePC          = 0x01
	dbgAdvanceLine        = 0x02
	dbgStartLocal         = 0x03
	dbgStartLocalExtended = 0x04
	dbgEndLocal           = 0x05
	dbgRestartLocal       = 0x06
	dbgSetPrologueEnd     = 0x07
	dbgSetEpilogueBegin   = 0x08
	dbgSetFile            = 0x09
)

// Method handle kinds at or below this value reference fields.
const methodHandleLastFieldKind = 0x03

var versions = map[string]int{"035": 35, "036": 36, "037": 37, "038": 38, "039": 39, "040": 40, "041": 41}
