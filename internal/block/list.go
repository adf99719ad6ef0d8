package block

import (
	"errors"
	"io"
	"slices"
)

// ErrImmutable is the panic value for mutating an immutable empty list.
var ErrImmutable = errors.New("invalid argument: list is immutable")

// List is an ordered, index-addressable sequence of owned elements. Every
// element's Index and Parent are kept consistent with its position.
//
// A list shrunk to zero by SetSize is locked: it drops its backing store and
// its creator. The first mutation afterwards allocates a fresh store and
// reattaches the creator.
type List[T Element] struct {
	items     []T
	creator   Creator[T]
	saved     Creator[T]
	parent    Container
	locked    bool
	immutable bool
	cached    int

	// OnRefreshed runs after children are refreshed and before the change
	// notification, for footer or header recomputation.
	OnRefreshed func()
}

// NewList creates an empty list. creator may be nil when the list never grows
// through SetSize.
func NewList[T Element](creator Creator[T]) *List[T] {
	return &List[T]{creator: creator, cached: -1}
}

// NewImmutableEmpty returns an empty list that panics on every mutation.
func NewImmutableEmpty[T Element]() *List[T] {
	return &List[T]{immutable: true, cached: 0}
}

// SetParent sets the container notified on changes.
func (l *List[T]) SetParent(parent Container) {
	l.parent = parent
}

// Creator returns the active creator, nil while locked.
func (l *List[T]) Creator() Creator[T] {
	return l.creator
}

// IsLocked reports whether the list is in its locked empty state.
func (l *List[T]) IsLocked() bool {
	return l.locked
}

// OnChanged invalidates the cached size and propagates upwards.
func (l *List[T]) OnChanged() {
	l.cached = -1
	if l.parent != nil {
		l.parent.OnChanged()
	}
}

func (l *List[T]) mutate() {
	if l.immutable {
		panic(ErrImmutable)
	}
	if l.locked {
		l.items = make([]T, 0, 4)
		l.creator = l.saved
		l.saved = nil
		l.locked = false
	}
}

func (l *List[T]) attach(item T, index int) {
	item.SetParent(l)
	item.SetIndex(index)
}

func detach[T Element](item T) {
	item.SetParent(nil)
	item.SetIndex(-1)
}

// updateIndex reindexes items in [start, end).
func (l *List[T]) updateIndex(start, end int) {
	if end > len(l.items) {
		end = len(l.items)
	}
	for i := start; i < end; i++ {
		l.items[i].SetIndex(i)
	}
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	return len(l.items)
}

// Get returns the element at index.
func (l *List[T]) Get(index int) T {
	return l.items[index]
}

// Items returns the backing slice. Callers must not modify it.
func (l *List[T]) Items() []T {
	return l.items
}

// Contains reports whether item is owned by this list.
func (l *List[T]) Contains(item T) bool {
	i := item.Index()
	return i >= 0 && i < len(l.items) && item.Parent() == Container(l) && any(l.items[i]) == any(item)
}

// Add appends item.
func (l *List[T]) Add(item T) {
	l.mutate()
	l.attach(item, len(l.items))
	l.items = append(l.items, item)
	l.OnChanged()
}

// AddAll appends every item in order.
func (l *List[T]) AddAll(items ...T) {
	if len(items) == 0 {
		return
	}
	l.mutate()
	for _, item := range items {
		l.attach(item, len(l.items))
		l.items = append(l.items, item)
	}
	l.OnChanged()
}

// Insert places item at index, shifting later elements.
func (l *List[T]) Insert(index int, item T) {
	l.mutate()
	if index >= len(l.items) {
		l.Add(item)
		return
	}
	if index < 0 {
		index = 0
	}
	l.items = slices.Insert(l.items, index, item)
	item.SetParent(l)
	l.updateIndex(index, len(l.items))
	l.OnChanged()
}

// Set replaces the element at index and returns the detached previous one.
func (l *List[T]) Set(index int, item T) T {
	l.mutate()
	old := l.items[index]
	detach(old)
	l.items[index] = item
	l.attach(item, index)
	l.OnChanged()
	return old
}

// RemoveAt detaches and returns the element at index.
func (l *List[T]) RemoveAt(index int) T {
	l.mutate()
	item := l.items[index]
	l.items = slices.Delete(l.items, index, index+1)
	detach(item)
	l.updateIndex(index, len(l.items))
	l.OnChanged()
	return item
}

// Remove detaches item if this list owns it.
func (l *List[T]) Remove(item T) bool {
	if !l.Contains(item) {
		return false
	}
	l.RemoveAt(item.Index())
	return true
}

// RemoveIf detaches every element matching pred and returns how many were
// removed. Only elements after the first removal are reindexed.
func (l *List[T]) RemoveIf(pred func(T) bool) int {
	first := -1
	for i, item := range l.items {
		if pred(item) {
			first = i
			break
		}
	}
	if first < 0 {
		return 0
	}
	l.mutate()
	kept := l.items[:first]
	removed := 0
	for _, item := range l.items[first:] {
		if pred(item) {
			detach(item)
			removed++
			continue
		}
		kept = append(kept, item)
	}
	var zero T
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = kept
	l.updateIndex(first, len(l.items))
	l.OnChanged()
	return removed
}

// MoveTo moves item to index. It returns false if item is not owned.
func (l *List[T]) MoveTo(item T, index int) bool {
	if !l.Contains(item) {
		return false
	}
	l.mutate()
	from := item.Index()
	if index >= len(l.items) {
		index = len(l.items) - 1
	}
	if index < 0 {
		index = 0
	}
	if from == index {
		return true
	}
	l.items = slices.Delete(l.items, from, from+1)
	l.items = slices.Insert(l.items, index, item)
	l.updateIndex(min(from, index), max(from, index)+1)
	l.OnChanged()
	return true
}

// SetSize grows or shrinks the list. Growing materializes elements through
// the creator. Shrinking to zero locks the list.
func (l *List[T]) SetSize(n int) {
	if n < 0 {
		n = 0
	}
	if n == len(l.items) && !(n == 0 && !l.locked) {
		return
	}
	if n == 0 {
		if l.immutable {
			panic(ErrImmutable)
		}
		for _, item := range l.items {
			detach(item)
		}
		l.items = nil
		if l.creator != nil {
			l.saved = l.creator
		}
		l.creator = nil
		l.locked = true
		l.OnChanged()
		return
	}
	l.mutate()
	if n < len(l.items) {
		for _, item := range l.items[n:] {
			detach(item)
		}
		clear(l.items[n:])
		l.items = l.items[:n]
		l.OnChanged()
		return
	}
	if l.creator == nil {
		panic(errors.New("invalid argument: list has no creator to grow"))
	}
	for i := len(l.items); i < n; i++ {
		item := l.creator.NewInstanceAt(i)
		l.attach(item, i)
		l.items = append(l.items, item)
	}
	l.OnChanged()
}

// EnsureSize grows the list to at least n elements.
func (l *List[T]) EnsureSize(n int) {
	if n > len(l.items) {
		l.SetSize(n)
	}
}

// Sort stable-sorts the elements with cmp and reindexes all of them.
func (l *List[T]) Sort(cmp func(a, b T) int) {
	if len(l.items) < 2 {
		return
	}
	l.mutate()
	slices.SortStableFunc(l.items, cmp)
	l.updateIndex(0, len(l.items))
	l.OnChanged()
}

// Refresh trims spare capacity, refreshes children, runs OnRefreshed and
// then notifies the parent.
func (l *List[T]) Refresh() {
	if !l.locked && !l.immutable {
		l.items = slices.Clip(l.items)
	}
	for _, item := range l.items {
		if r, ok := any(item).(Refreshable); ok {
			r.Refresh()
		}
	}
	if l.OnRefreshed != nil {
		l.OnRefreshed()
	}
	l.OnChanged()
}

// CountBytes returns the summed size of the elements that implement Sizer.
func (l *List[T]) CountBytes() int {
	if l.cached >= 0 {
		return l.cached
	}
	total := 0
	for _, item := range l.items {
		if s, ok := any(item).(Sizer); ok {
			total += s.CountBytes()
		}
	}
	l.cached = total
	return total
}

// WriteTo writes every element that implements io.WriterTo in order.
func (l *List[T]) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, item := range l.items {
		wt, ok := any(item).(io.WriterTo)
		if !ok {
			continue
		}
		n, err := wt.WriteTo(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
