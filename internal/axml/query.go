package axml

import (
	"fmt"
	"io"
	"strings"

	"github.com/antisplit/internal/chunk"
)

// AndroidNS is the android attribute namespace URI.
const AndroidNS = "http://schemas.android.com/apk/res/android"

// Elements returns every start element in document order.
func (doc *Document) Elements() []*StartElement {
	var out []*StartElement
	for _, n := range doc.Nodes.Items() {
		if e, ok := n.(*StartElement); ok {
			out = append(out, e)
		}
	}
	return out
}

// Root returns the outermost element, or nil for an empty document.
func (doc *Document) Root() *StartElement {
	for _, n := range doc.Nodes.Items() {
		if e, ok := n.(*StartElement); ok {
			return e
		}
	}
	return nil
}

// Children returns the direct child elements of parent.
func (doc *Document) Children(parent *StartElement) []*StartElement {
	start := parent.Index()
	if start < 0 || doc.Nodes.Get(start) != Node(parent) {
		return nil
	}
	var out []*StartElement
	depth := 0
	for _, n := range doc.Nodes.Items()[start+1:] {
		switch e := n.(type) {
		case *StartElement:
			if depth == 0 {
				out = append(out, e)
			}
			depth++
		case *EndElement:
			if depth == 0 {
				return out
			}
			depth--
		}
	}
	return out
}

// FindElements returns the elements named name whose parent chain matches
// path, e.g. FindElements("manifest", "application", "meta-data").
func (doc *Document) FindElements(path ...string) []*StartElement {
	if len(path) == 0 {
		return nil
	}
	var stack []string
	var out []*StartElement
	for _, n := range doc.Nodes.Items() {
		switch e := n.(type) {
		case *StartElement:
			stack = append(stack, e.TagName())
			if matchPath(stack, path) {
				out = append(out, e)
			}
		case *EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return out
}

func matchPath(stack, path []string) bool {
	if len(stack) != len(path) {
		return false
	}
	for i := range path {
		if stack[i] != path[i] {
			return false
		}
	}
	return true
}

// RemoveElement removes e together with its subtree. It reports false when
// e is not part of the document.
func (doc *Document) RemoveElement(e *StartElement) bool {
	start := e.Index()
	if start < 0 || start >= doc.Nodes.Len() || doc.Nodes.Get(start) != Node(e) {
		return false
	}
	end := -1
	for i := start + 1; i < doc.Nodes.Len(); i++ {
		if ee, ok := doc.Nodes.Get(i).(*EndElement); ok && ee.Start == e {
			end = i
			break
		}
	}
	if end < 0 {
		return false
	}
	for i := end; i >= start; i-- {
		doc.Nodes.RemoveAt(i)
	}
	return true
}

// AttributeID returns the framework resource id of the attribute name, or 0
// when the name is not covered by the resource map.
func (doc *Document) AttributeID(a *Attribute) uint32 {
	if a == nil || a.Name == nil {
		return 0
	}
	idx := a.Name.Index()
	if idx < 0 || idx >= len(doc.ResourceMap) {
		return 0
	}
	return doc.ResourceMap[idx]
}

// AttrByID returns the attribute of e whose name maps to resource id.
func (doc *Document) AttrByID(e *StartElement, id uint32) *Attribute {
	for _, a := range e.Attributes {
		if doc.AttributeID(a) == id {
			return a
		}
	}
	return nil
}

// AttributeString returns the string form of an attribute value, preferring
// the raw value when present.
func AttributeString(a *Attribute) string {
	if a == nil {
		return ""
	}
	if a.RawValue != nil {
		return a.RawValue.Value()
	}
	return a.Value.String()
}

// WriteXML renders the document as indented text XML.
func (doc *Document) WriteXML(w io.Writer) error {
	prefixes := map[*chunk.StringItem]string{}
	var pending []*Namespace
	depth := 0
	var sb strings.Builder
	for _, n := range doc.Nodes.Items() {
		switch node := n.(type) {
		case *Namespace:
			if !node.End {
				if node.URI != nil && node.Prefix != nil {
					prefixes[node.URI] = node.Prefix.Value()
				}
				pending = append(pending, node)
			}
		case *StartElement:
			sb.WriteString(strings.Repeat("  ", depth))
			sb.WriteString("<")
			sb.WriteString(qualified(prefixes, node.Namespace, node.Name))
			for _, ns := range pending {
				fmt.Fprintf(&sb, " xmlns:%s=%q", strValue(ns.Prefix), strValue(ns.URI))
			}
			pending = nil
			for _, a := range node.Attributes {
				fmt.Fprintf(&sb, " %s=%q", qualified(prefixes, a.Namespace, a.Name), AttributeString(a))
			}
			sb.WriteString(">\n")
			depth++
		case *EndElement:
			depth--
			sb.WriteString(strings.Repeat("  ", depth))
			sb.WriteString("</")
			sb.WriteString(qualified(prefixes, node.Start.Namespace, node.Start.Name))
			sb.WriteString(">\n")
		case *CData:
			sb.WriteString(strings.Repeat("  ", depth))
			sb.WriteString(strValue(node.Data))
			sb.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func qualified(prefixes map[*chunk.StringItem]string, ns, name *chunk.StringItem) string {
	if ns != nil {
		if p, ok := prefixes[ns]; ok && p != "" {
			return p + ":" + strValue(name)
		}
	}
	return strValue(name)
}

func strValue(s *chunk.StringItem) string {
	if s == nil {
		return ""
	}
	return s.Value()
}
