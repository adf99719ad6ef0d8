package axml

import "github.com/antisplit/internal/chunk"

// Attr describes an attribute for Builder. ResID is the framework attribute
// id for android: attributes and 0 otherwise.
type Attr struct {
	NS    string
	Name  string
	ResID uint32
	Value chunk.Value
	// Raw, when set, is stored as the raw value and used as the string value
	// if Value has no type.
	Raw string
}

// StringAttr returns a string attribute.
func StringAttr(ns, name string, resID uint32, v string) Attr {
	return Attr{NS: ns, Name: name, ResID: resID, Raw: v, Value: chunk.Value{DataType: chunk.DataString}}
}

// IntAttr returns an integer attribute.
func IntAttr(ns, name string, resID uint32, v uint32) Attr {
	return Attr{NS: ns, Name: name, ResID: resID, Value: chunk.Value{DataType: chunk.DataIntDec, Data: v}}
}

// BoolAttr returns a boolean attribute.
func BoolAttr(ns, name string, resID uint32, v bool) Attr {
	val := chunk.Value{DataType: chunk.DataIntBoolean}
	if v {
		val.Data = 0xFFFFFFFF
	}
	return Attr{NS: ns, Name: name, ResID: resID, Value: val}
}

// Builder assembles a Document in document order.
type Builder struct {
	doc   *Document
	open  []*StartElement
	nsEnd []*Namespace
	line  uint32
}

// NewBuilder creates a builder over an empty UTF-8 document.
func NewBuilder() *Builder {
	return &Builder{doc: NewDocument(), line: 1}
}

// Namespace declares a namespace that stays open until Build.
func (b *Builder) Namespace(prefix, uri string) *Builder {
	pool := b.doc.Strings
	start := &Namespace{NodeInfo: NodeInfo{Line: b.line}, Prefix: pool.Intern(prefix), URI: pool.Intern(uri)}
	b.doc.Nodes.Add(start)
	b.nsEnd = append(b.nsEnd, &Namespace{NodeInfo: NodeInfo{Line: b.line}, End: true, Prefix: start.Prefix, URI: start.URI})
	return b
}

// Start opens an element.
func (b *Builder) Start(name string, attrs ...Attr) *StartElement {
	b.line++
	e := &StartElement{NodeInfo: NodeInfo{Line: b.line}, Name: b.doc.Strings.Intern(name)}
	for _, spec := range attrs {
		e.Attributes = append(e.Attributes, b.doc.NewAttribute(spec))
	}
	b.doc.Nodes.Add(e)
	b.open = append(b.open, e)
	return e
}

// End closes the innermost open element.
func (b *Builder) End() *Builder {
	if len(b.open) == 0 {
		return b
	}
	e := b.open[len(b.open)-1]
	b.open = b.open[:len(b.open)-1]
	b.doc.Nodes.Add(&EndElement{NodeInfo: NodeInfo{Line: b.line}, Start: e})
	return b
}

// Build closes open elements and namespaces and returns the document.
func (b *Builder) Build() *Document {
	for len(b.open) > 0 {
		b.End()
	}
	for i := len(b.nsEnd) - 1; i >= 0; i-- {
		b.doc.Nodes.Add(b.nsEnd[i])
	}
	b.nsEnd = nil
	return b.doc
}

// NewAttribute creates an attribute whose strings are pooled in doc. Names
// with a resource id are placed in the resource-mapped pool prefix.
func (doc *Document) NewAttribute(spec Attr) *Attribute {
	pool := doc.Strings
	a := &Attribute{Value: spec.Value}
	if spec.NS != "" {
		a.Namespace = pool.Intern(spec.NS)
	}
	if spec.ResID != 0 {
		a.Name = doc.resourceName(spec.Name, spec.ResID)
	} else {
		a.Name = pool.Intern(spec.Name)
	}
	if spec.Raw != "" {
		a.RawValue = pool.Intern(spec.Raw)
		if a.Value.DataType == chunk.DataString || a.Value.DataType == chunk.DataNull {
			a.Value.DataType = chunk.DataString
			a.Value.Str = a.RawValue
		}
	}
	return a
}

func (doc *Document) resourceName(name string, id uint32) *chunk.StringItem {
	for i, mapped := range doc.ResourceMap {
		if mapped == id {
			if s := doc.Strings.Get(i); s != nil && s.Value() == name {
				return s
			}
		}
	}
	s := doc.Strings.InsertAt(len(doc.ResourceMap), name)
	doc.ResourceMap = append(doc.ResourceMap, id)
	return s
}
