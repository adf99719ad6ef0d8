// Package axml decodes and encodes Android binary XML documents such as
// AndroidManifest.xml and compiled layouts.
package axml

import (
	"github.com/antisplit/internal/block"
	"github.com/antisplit/internal/chunk"
)

const (
	nodeHeaderSize   = 16
	attributeSize    = 20
	startElementBody = 20
)

// Node is an element of the flat node sequence of a Document.
type Node interface {
	block.Element
	Type() uint16
	CountBytes() int
}

// NodeInfo carries the source line and comment of a node.
type NodeInfo struct {
	block.Node
	Line    uint32
	Comment *chunk.StringItem
}

// Namespace is a start or end namespace node.
type Namespace struct {
	NodeInfo
	End    bool
	Prefix *chunk.StringItem
	URI    *chunk.StringItem
}

// Type returns the namespace node tag.
func (n *Namespace) Type() uint16 {
	if n.End {
		return chunk.TypeXMLEndNamespace
	}
	return chunk.TypeXMLStartNamespace
}

// CountBytes returns the serialized size.
func (n *Namespace) CountBytes() int { return nodeHeaderSize + 8 }

// Attribute is one attribute of a start element.
type Attribute struct {
	Namespace *chunk.StringItem
	Name      *chunk.StringItem
	RawValue  *chunk.StringItem
	Value     chunk.Value
}

// StartElement opens an element.
type StartElement struct {
	NodeInfo
	Namespace  *chunk.StringItem
	Name       *chunk.StringItem
	Attributes []*Attribute
	IDAttr     *Attribute
	ClassAttr  *Attribute
	StyleAttr  *Attribute
}

// Type returns TypeXMLStartElement.
func (e *StartElement) Type() uint16 { return chunk.TypeXMLStartElement }

// CountBytes returns the serialized size.
func (e *StartElement) CountBytes() int {
	return nodeHeaderSize + startElementBody + attributeSize*len(e.Attributes)
}

// TagName returns the element name.
func (e *StartElement) TagName() string {
	if e.Name == nil {
		return ""
	}
	return e.Name.Value()
}

// Attr returns the first attribute whose name is name.
func (e *StartElement) Attr(name string) *Attribute {
	for _, a := range e.Attributes {
		if a.Name != nil && a.Name.Value() == name {
			return a
		}
	}
	return nil
}

// RemoveAttributes drops every attribute matching pred and returns how many
// were removed. Special attribute slots pointing at removed attributes are
// cleared.
func (e *StartElement) RemoveAttributes(pred func(*Attribute) bool) int {
	kept := e.Attributes[:0]
	removed := 0
	for _, a := range e.Attributes {
		if pred(a) {
			removed++
			if e.IDAttr == a {
				e.IDAttr = nil
			}
			if e.ClassAttr == a {
				e.ClassAttr = nil
			}
			if e.StyleAttr == a {
				e.StyleAttr = nil
			}
			continue
		}
		kept = append(kept, a)
	}
	e.Attributes = kept
	if removed > 0 {
		e.NotifyChanged()
	}
	return removed
}

func (e *StartElement) slot(a *Attribute) uint16 {
	if a == nil {
		return 0
	}
	for i, x := range e.Attributes {
		if x == a {
			return uint16(i + 1)
		}
	}
	return 0
}

// EndElement closes the element opened by Start. Its namespace and name are
// taken from Start when the node is written.
type EndElement struct {
	NodeInfo
	Start *StartElement
}

// Type returns TypeXMLEndElement.
func (e *EndElement) Type() uint16 { return chunk.TypeXMLEndElement }

// CountBytes returns the serialized size.
func (e *EndElement) CountBytes() int { return nodeHeaderSize + 8 }

// CData is a character data node.
type CData struct {
	NodeInfo
	Data  *chunk.StringItem
	Value chunk.Value
}

// Type returns TypeXMLCData.
func (c *CData) Type() uint16 { return chunk.TypeXMLCData }

// CountBytes returns the serialized size.
func (c *CData) CountBytes() int { return nodeHeaderSize + 4 + chunk.ValueSize }
