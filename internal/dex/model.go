package dex

import (
	"strconv"
	"strings"
)

// Strings in the model are MUTF-8 byte strings exactly as stored in the
// file. Type, field and method references are held by descriptor so that
// classes from different files can share one pool.

// Proto is a method prototype.
type Proto struct {
	Return string
	Params []string
}

// Key identifies the prototype.
func (p *Proto) Key() string {
	return "(" + strings.Join(p.Params, "") + ")" + p.Return
}

// Shorty returns the short-form descriptor.
func (p *Proto) Shorty() string {
	var sb strings.Builder
	sb.WriteByte(shortyChar(p.Return))
	for _, t := range p.Params {
		sb.WriteByte(shortyChar(t))
	}
	return sb.String()
}

func shortyChar(desc string) byte {
	if desc == "" {
		return 'V'
	}
	switch desc[0] {
	case 'L', '[':
		return 'L'
	default:
		return desc[0]
	}
}

// FieldRef names a field.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

// Key identifies the field.
func (f *FieldRef) Key() string {
	return f.Class + "->" + f.Name + ":" + f.Type
}

// MethodRef names a method.
type MethodRef struct {
	Class string
	Name  string
	Proto *Proto
}

// Key identifies the method.
func (m *MethodRef) Key() string {
	return m.Class + "->" + m.Name + m.Proto.Key()
}

// MethodHandle is a method_handle_item.
type MethodHandle struct {
	Kind   uint16
	Field  *FieldRef
	Method *MethodRef
}

// Key identifies the handle.
func (h *MethodHandle) Key() string {
	target := ""
	if h.Field != nil {
		target = h.Field.Key()
	} else if h.Method != nil {
		target = h.Method.Key()
	}
	return strconv.Itoa(int(h.Kind)) + "@" + target
}

// CallSite is a call_site_item: the bootstrap method handle, the method
// name, the method type and any extra bootstrap arguments.
type CallSite struct {
	Values []EncodedValue
}

// Key identifies the call site by its contents.
func (c *CallSite) Key() string {
	var sb strings.Builder
	for _, v := range c.Values {
		v.writeKey(&sb)
		sb.WriteByte(';')
	}
	return sb.String()
}

// EncodedValue is a constant in static values, annotations and call sites.
// Numeric types keep their value in Bits: sign-extended for signed
// integers, IEEE bits for floating point.
type EncodedValue struct {
	Type       uint8
	Bits       uint64
	Str        string
	Field      *FieldRef
	Method     *MethodRef
	Proto      *Proto
	Handle     *MethodHandle
	Array      []EncodedValue
	Annotation *EncodedAnnotation
}

func (v *EncodedValue) writeKey(sb *strings.Builder) {
	sb.WriteString(strconv.Itoa(int(v.Type)))
	sb.WriteByte(':')
	switch v.Type {
	case ValueString, ValueType:
		sb.WriteString(strconv.Quote(v.Str))
	case ValueField, ValueEnum:
		sb.WriteString(v.Field.Key())
	case ValueMethod:
		sb.WriteString(v.Method.Key())
	case ValueMethodType:
		sb.WriteString(v.Proto.Key())
	case ValueMethodHandle:
		sb.WriteString(v.Handle.Key())
	case ValueArray:
		sb.WriteByte('{')
		for i := range v.Array {
			v.Array[i].writeKey(sb)
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
	case ValueAnnotation:
		v.Annotation.writeKey(sb)
	default:
		sb.WriteString(strconv.FormatUint(v.Bits, 16))
	}
}

// IsDefault reports whether v is the zero value of its type, i.e. what the
// runtime assumes for a static field without an initializer.
func (v *EncodedValue) IsDefault() bool {
	switch v.Type {
	case ValueNull:
		return true
	case ValueByte, ValueShort, ValueChar, ValueInt, ValueLong, ValueFloat, ValueDouble, ValueBoolean:
		return v.Bits == 0
	default:
		return false
	}
}

// DefaultValue returns the zero value for a field descriptor.
func DefaultValue(desc string) EncodedValue {
	switch desc {
	case "Z":
		return EncodedValue{Type: ValueBoolean}
	case "B":
		return EncodedValue{Type: ValueByte}
	case "S":
		return EncodedValue{Type: ValueShort}
	case "C":
		return EncodedValue{Type: ValueChar}
	case "I":
		return EncodedValue{Type: ValueInt}
	case "J":
		return EncodedValue{Type: ValueLong}
	case "F":
		return EncodedValue{Type: ValueFloat}
	case "D":
		return EncodedValue{Type: ValueDouble}
	default:
		return EncodedValue{Type: ValueNull}
	}
}

// AnnotationElement is a name/value pair.
type AnnotationElement struct {
	Name  string
	Value EncodedValue
}

// EncodedAnnotation is an annotation type with its elements.
type EncodedAnnotation struct {
	Type     string
	Elements []AnnotationElement
}

func (a *EncodedAnnotation) writeKey(sb *strings.Builder) {
	sb.WriteString("@" + a.Type + "(")
	for i := range a.Elements {
		sb.WriteString(a.Elements[i].Name)
		sb.WriteByte('=')
		a.Elements[i].Value.writeKey(sb)
		sb.WriteByte(',')
	}
	sb.WriteByte(')')
}

// Annotation is an annotation_item.
type Annotation struct {
	Visibility uint8
	EncodedAnnotation
}

// AnnotationSet is an annotation_set_item; nil entries in a parameter list
// stand for parameters without annotations.
type AnnotationSet []*Annotation

// MemberAnnotations attaches an annotation set to a field or method.
type MemberAnnotations struct {
	Field  *FieldRef
	Method *MethodRef
	Set    AnnotationSet
}

// ParameterAnnotations attaches per-parameter annotation sets to a method.
type ParameterAnnotations struct {
	Method *MethodRef
	Sets   []AnnotationSet
}

// Annotations is the annotations directory of a class.
type Annotations struct {
	Class      AnnotationSet
	HasClass   bool
	Fields     []MemberAnnotations
	Methods    []MemberAnnotations
	Parameters []ParameterAnnotations
}

// OptString is a string reference that may be absent.
type OptString struct {
	Value string
	Valid bool
}

// DebugOp is one debug_info state machine instruction.
type DebugOp struct {
	Op   uint8
	Reg  uint32
	Num  int32
	Name OptString
	Type OptString
	Sig  OptString
}

// DebugInfo is a debug_info_item.
type DebugInfo struct {
	LineStart  uint32
	ParamNames []OptString
	Ops        []DebugOp
}

// InsnRef is an instruction operand that indexes a pool. Slot is the code
// unit holding the index.
type InsnRef struct {
	Slot   int
	Kind   RefKind
	Wide   bool
	Str    string
	Field  *FieldRef
	Method *MethodRef
	Proto  *Proto
	Site   *CallSite
	Handle *MethodHandle
}

// Catch is one typed handler of a catch handler.
type Catch struct {
	Type string
	Addr uint32
}

// Handler is an encoded_catch_handler. CatchAll is -1 when absent.
type Handler struct {
	Catches  []Catch
	CatchAll int64
}

// Try covers a code range with a handler.
type Try struct {
	Start   uint32
	Count   uint16
	Handler int
}

// Code is a code_item with its pool operands lifted out of the
// instruction stream.
type Code struct {
	Registers uint16
	Ins       uint16
	Outs      uint16
	Insns     []uint16
	Refs      []InsnRef
	Tries     []Try
	Handlers  []Handler
	Debug     *DebugInfo
}

// Field is an encoded_field.
type Field struct {
	Ref    *FieldRef
	Access uint32
}

// Method is an encoded_method.
type Method struct {
	Ref    *MethodRef
	Access uint32
	Code   *Code
}

// Class is a class_def with its class data.
type Class struct {
	Type        string
	Access      uint32
	Super       string
	Interfaces  []string
	SourceFile  OptString
	Annotations *Annotations

	StaticFields   []*Field
	InstanceFields []*Field
	DirectMethods  []*Method
	VirtualMethods []*Method
	// StaticValues holds initial values keyed by static field key.
	StaticValues map[string]EncodedValue
}

// File is a decoded dex file.
type File struct {
	Version int
	Classes []*Class
}
