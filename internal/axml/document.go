package axml

import (
	"fmt"
	"io"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/internal/block"
	"github.com/antisplit/internal/chunk"
	"github.com/antisplit/pkg/collections"
	apperrors "github.com/antisplit/pkg/errors"
)

// Document is a binary XML file: string pool, optional resource map and a
// flat sequence of nodes in file order.
type Document struct {
	Strings *chunk.StringPool
	// ResourceMap maps attribute name string indices to resource ids.
	ResourceMap []uint32
	Nodes       *block.List[Node]
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{
		Strings: chunk.NewStringPool(true),
		Nodes:   block.NewList[Node](nil),
	}
}

// Decode parses a binary XML document.
func Decode(data []byte) (*Document, error) {
	r := binio.NewReader(data)
	h, sub, err := chunk.ReadChunk(r)
	if err != nil {
		return nil, err
	}
	if h.Type != chunk.TypeXML {
		return nil, apperrors.Format("not a binary xml document: chunk type 0x%04x", h.Type)
	}
	if err := sub.Seek(int(h.HeaderSize)); err != nil {
		return nil, apperrors.Format("xml header: %v", err)
	}

	doc := &Document{Nodes: block.NewList[Node](nil)}
	d := &decoder{doc: doc, open: collections.NewStack[*StartElement](16)}
	for sub.Len() > 0 {
		ch, err := chunk.PeekHeader(sub)
		if err != nil {
			return nil, err
		}
		switch ch.Type {
		case chunk.TypeStringPool:
			if doc.Strings != nil {
				return nil, apperrors.Format("xml document has more than one string pool")
			}
			if doc.Strings, err = chunk.DecodeStringPool(sub); err != nil {
				return nil, err
			}
		case chunk.TypeXMLResourceMap:
			if err := d.resourceMap(sub); err != nil {
				return nil, err
			}
		case chunk.TypeXMLStartNamespace, chunk.TypeXMLEndNamespace,
			chunk.TypeXMLStartElement, chunk.TypeXMLEndElement, chunk.TypeXMLCData:
			if doc.Strings == nil {
				return nil, apperrors.Format("xml node 0x%04x before string pool", ch.Type)
			}
			node, err := d.node(sub)
			if err != nil {
				return nil, err
			}
			doc.Nodes.Add(node)
		default:
			raw, err := chunk.DecodeRaw(sub)
			if err != nil {
				return nil, err
			}
			doc.Nodes.Add(raw)
		}
	}
	if doc.Strings == nil {
		doc.Strings = chunk.NewStringPool(true)
	}
	if d.open.Len() != 0 {
		return nil, apperrors.Format("xml document has %d unclosed elements", d.open.Len())
	}
	return doc, nil
}

type decoder struct {
	doc  *Document
	open *collections.Stack[*StartElement]
}

func (d *decoder) str(idx uint32) (*chunk.StringItem, error) {
	if idx == chunk.NoIndex {
		return nil, nil
	}
	s := d.doc.Strings.Get(int(idx))
	if s == nil {
		return nil, fmt.Errorf("string index %d outside pool of %d", idx, d.doc.Strings.Len())
	}
	return s, nil
}

func (d *decoder) resourceMap(r *binio.Reader) error {
	h, sub, err := chunk.ReadChunk(r)
	if err != nil {
		return err
	}
	_ = sub.Seek(int(h.HeaderSize))
	ids := make([]uint32, 0, sub.Len()/4)
	for sub.Len() >= 4 {
		id, _ := sub.ReadUint32()
		ids = append(ids, id)
	}
	d.doc.ResourceMap = ids
	return nil
}

func (d *decoder) node(r *binio.Reader) (Node, error) {
	start := r.Pos()
	h, sub, err := chunk.ReadChunk(r)
	if err != nil {
		return nil, err
	}
	node, err := d.nodeBody(h, sub)
	if err != nil {
		return nil, apperrors.Format("xml node 0x%04x at %d: %v", h.Type, start, err)
	}
	return node, nil
}

func (d *decoder) nodeBody(h chunk.Header, sub *binio.Reader) (Node, error) {
	if h.HeaderSize < nodeHeaderSize {
		return nil, fmt.Errorf("node header size %d", h.HeaderSize)
	}
	_ = sub.Skip(chunk.HeaderSize)
	line, _ := sub.ReadUint32()
	commentIdx, _ := sub.ReadUint32()
	comment, err := d.str(commentIdx)
	if err != nil {
		return nil, err
	}
	info := NodeInfo{Line: line, Comment: comment}
	if err := sub.Seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}

	u32 := func() (uint32, error) { return sub.ReadUint32() }
	switch h.Type {
	case chunk.TypeXMLStartNamespace, chunk.TypeXMLEndNamespace:
		prefixIdx, err1 := u32()
		uriIdx, err2 := u32()
		if err1 != nil || err2 != nil {
			return nil, binio.ErrShortBuffer
		}
		prefix, err := d.str(prefixIdx)
		if err != nil {
			return nil, err
		}
		uri, err := d.str(uriIdx)
		if err != nil {
			return nil, err
		}
		return &Namespace{NodeInfo: info, End: h.Type == chunk.TypeXMLEndNamespace, Prefix: prefix, URI: uri}, nil

	case chunk.TypeXMLStartElement:
		return d.startElement(info, sub, int(h.HeaderSize))

	case chunk.TypeXMLEndElement:
		nsIdx, err1 := u32()
		nameIdx, err2 := u32()
		if err1 != nil || err2 != nil {
			return nil, binio.ErrShortBuffer
		}
		ns, err := d.str(nsIdx)
		if err != nil {
			return nil, err
		}
		name, err := d.str(nameIdx)
		if err != nil {
			return nil, err
		}
		start, ok := d.open.Pop()
		if !ok {
			return nil, fmt.Errorf("end element %q without start", strValue(name))
		}
		if strValue(ns) != strValue(start.Namespace) || strValue(name) != strValue(start.Name) {
			return nil, fmt.Errorf("end element %q closes %q", strValue(name), strValue(start.Name))
		}
		return &EndElement{NodeInfo: info, Start: start}, nil

	default:
		dataIdx, err := u32()
		if err != nil {
			return nil, err
		}
		data, err := d.str(dataIdx)
		if err != nil {
			return nil, err
		}
		v, err := chunk.DecodeValue(sub, d.doc.Strings)
		if err != nil {
			return nil, err
		}
		return &CData{NodeInfo: info, Data: data, Value: v}, nil
	}
}

func (d *decoder) startElement(info NodeInfo, sub *binio.Reader, bodyStart int) (*StartElement, error) {
	ext, err := sub.ReadBytes(startElementBody)
	if err != nil {
		return nil, err
	}
	er := binio.NewReader(ext)
	nsIdx, _ := er.ReadUint32()
	nameIdx, _ := er.ReadUint32()
	attrStart, _ := er.ReadUint16()
	attrSize, _ := er.ReadUint16()
	attrCount, _ := er.ReadUint16()
	idIndex, _ := er.ReadUint16()
	classIndex, _ := er.ReadUint16()
	styleIndex, _ := er.ReadUint16()

	e := &StartElement{NodeInfo: info}
	if e.Namespace, err = d.str(nsIdx); err != nil {
		return nil, err
	}
	if e.Name, err = d.str(nameIdx); err != nil {
		return nil, err
	}
	if attrSize < attributeSize && attrCount > 0 {
		return nil, fmt.Errorf("attribute size %d", attrSize)
	}

	e.Attributes = make([]*Attribute, 0, attrCount)
	for i := 0; i < int(attrCount); i++ {
		if err := sub.Seek(bodyStart + int(attrStart) + i*int(attrSize)); err != nil {
			return nil, err
		}
		a := &Attribute{}
		ns, _ := sub.ReadUint32()
		name, _ := sub.ReadUint32()
		rawIdx, err := sub.ReadUint32()
		if err != nil {
			return nil, err
		}
		if a.Namespace, err = d.str(ns); err != nil {
			return nil, err
		}
		if a.Name, err = d.str(name); err != nil {
			return nil, err
		}
		if a.RawValue, err = d.str(rawIdx); err != nil {
			return nil, err
		}
		if a.Value, err = chunk.DecodeValue(sub, d.doc.Strings); err != nil {
			return nil, err
		}
		e.Attributes = append(e.Attributes, a)
	}

	pick := func(slot uint16) *Attribute {
		if slot == 0 || int(slot) > len(e.Attributes) {
			return nil
		}
		return e.Attributes[slot-1]
	}
	e.IDAttr, e.ClassAttr, e.StyleAttr = pick(idIndex), pick(classIndex), pick(styleIndex)
	d.open.Push(e)
	return e, nil
}

// Encode serializes the document after refreshing cached sizes.
func (doc *Document) Encode() ([]byte, error) {
	doc.Nodes.Refresh()
	total := doc.CountBytes()
	w := binio.NewWriter(total)
	chunk.WriteHeader(w, chunk.TypeXML, chunk.HeaderSize, total)
	if _, err := doc.Strings.WriteTo(w); err != nil {
		return nil, err
	}
	if doc.ResourceMap != nil {
		chunk.WriteHeader(w, chunk.TypeXMLResourceMap, chunk.HeaderSize, chunk.HeaderSize+4*len(doc.ResourceMap))
		for _, id := range doc.ResourceMap {
			w.WriteUint32(id)
		}
	}
	for _, n := range doc.Nodes.Items() {
		if err := doc.writeNode(w, n); err != nil {
			return nil, err
		}
	}
	if w.Len() != total {
		return nil, fmt.Errorf("xml document wrote %d bytes, expected %d", w.Len(), total)
	}
	return w.Bytes(), nil
}

// CountBytes returns the serialized size.
func (doc *Document) CountBytes() int {
	size := chunk.HeaderSize + doc.Strings.CountBytes()
	if doc.ResourceMap != nil {
		size += chunk.HeaderSize + 4*len(doc.ResourceMap)
	}
	return size + doc.Nodes.CountBytes()
}

func (doc *Document) writeNode(w *binio.Writer, n Node) error {
	if raw, ok := n.(*chunk.Raw); ok {
		_, err := raw.WriteTo(w)
		return err
	}
	pool := doc.Strings
	writeInfo := func(info *NodeInfo) {
		chunk.WriteHeader(w, n.Type(), nodeHeaderSize, n.CountBytes())
		w.WriteUint32(info.Line)
		w.WriteUint32(pool.Ref(info.Comment))
	}

	switch node := n.(type) {
	case *Namespace:
		writeInfo(&node.NodeInfo)
		w.WriteUint32(pool.Ref(node.Prefix))
		w.WriteUint32(pool.Ref(node.URI))
	case *StartElement:
		writeInfo(&node.NodeInfo)
		w.WriteUint32(pool.Ref(node.Namespace))
		w.WriteUint32(pool.Ref(node.Name))
		w.WriteUint16(startElementBody)
		w.WriteUint16(attributeSize)
		w.WriteUint16(uint16(len(node.Attributes)))
		w.WriteUint16(node.slot(node.IDAttr))
		w.WriteUint16(node.slot(node.ClassAttr))
		w.WriteUint16(node.slot(node.StyleAttr))
		for _, a := range node.Attributes {
			w.WriteUint32(pool.Ref(a.Namespace))
			w.WriteUint32(pool.Ref(a.Name))
			w.WriteUint32(pool.Ref(a.RawValue))
			a.Value.Encode(w, pool)
		}
	case *EndElement:
		writeInfo(&node.NodeInfo)
		w.WriteUint32(pool.Ref(node.Start.Namespace))
		w.WriteUint32(pool.Ref(node.Start.Name))
	case *CData:
		writeInfo(&node.NodeInfo)
		w.WriteUint32(pool.Ref(node.Data))
		node.Value.Encode(w, pool)
	default:
		return fmt.Errorf("unsupported xml node %T", n)
	}
	return nil
}

// WriteTo writes the encoded document.
func (doc *Document) WriteTo(out io.Writer) (int64, error) {
	data, err := doc.Encode()
	if err != nil {
		return 0, err
	}
	n, err := out.Write(data)
	return int64(n), err
}
