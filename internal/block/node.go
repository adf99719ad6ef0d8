// Package block provides the ordered, index-tracking container that backs
// string pools, chunk child lists and signing block records.
package block

import "io"

// Container is notified when the byte size of one of its children changes.
type Container interface {
	OnChanged()
}

// Element is an item that a List can own. Embedding Node implements it.
type Element interface {
	Index() int
	Parent() Container
	SetIndex(index int)
	SetParent(parent Container)
}

// Sizer reports the serialized size of a block.
type Sizer interface {
	CountBytes() int
}

// Refreshable blocks recompute derived header fields on Refresh.
type Refreshable interface {
	Refresh()
}

// Block is an element that serializes itself.
type Block interface {
	Element
	Sizer
	io.WriterTo
}

// Node holds the index and non-owning parent of a list element.
type Node struct {
	index  int
	parent Container
}

// Index returns the position in the owning list, or -1 when detached.
func (n *Node) Index() int {
	if n.parent == nil {
		return -1
	}
	return n.index
}

// Parent returns the owning container, nil when detached.
func (n *Node) Parent() Container {
	return n.parent
}

// SetIndex records the element position.
func (n *Node) SetIndex(index int) {
	n.index = index
}

// SetParent records the owning container.
func (n *Node) SetParent(parent Container) {
	n.parent = parent
}

// NotifyChanged tells the owning container that this element changed size.
func (n *Node) NotifyChanged() {
	if n.parent != nil {
		n.parent.OnChanged()
	}
}

// Creator materializes placeholder elements for SetSize and EnsureSize.
type Creator[T any] interface {
	NewInstanceAt(index int) T
}

// CreatorFunc adapts a function to Creator.
type CreatorFunc[T any] func(index int) T

// NewInstanceAt calls f.
func (f CreatorFunc[T]) NewInstanceAt(index int) T {
	return f(index)
}
