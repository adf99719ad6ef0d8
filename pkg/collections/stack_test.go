package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStack(t *testing.T) {
	s := NewStack[int](4)
	assert.True(t, s.IsEmpty())

	s.Push(1)
	s.Push(2)
	s.Push(3)
	assert.Equal(t, 3, s.Len())

	v, ok := s.Peek()
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, s.Len())

	for _, want := range []int{3, 2, 1} {
		v, ok = s.Pop()
		assert.True(t, ok)
		assert.Equal(t, want, v)
	}

	_, ok = s.Pop()
	assert.False(t, ok)
	_, ok = s.Peek()
	assert.False(t, ok)
	assert.True(t, s.IsEmpty())
}
