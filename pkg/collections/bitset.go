// Package collections provides small generic data structures used by the codecs.
package collections

import "math/bits"

// Bitset is a growable set of non-negative integers, one bit per element.
type Bitset struct {
	bits []uint64
	size int
}

// NewBitset creates a new bitset with the given size.
func NewBitset(size int) *Bitset {
	if size <= 0 {
		size = 64
	}
	return &Bitset{
		bits: make([]uint64, (size+63)/64),
		size: size,
	}
}

// Set sets the bit at index i, growing the set when needed.
func (b *Bitset) Set(i int) {
	if i < 0 {
		return
	}
	if i/64 >= len(b.bits) {
		b.grow(i + 1)
	}
	b.bits[i/64] |= 1 << (i % 64)
	if i >= b.size {
		b.size = i + 1
	}
}

// Clear clears the bit at index i.
func (b *Bitset) Clear(i int) {
	if i < 0 || i/64 >= len(b.bits) {
		return
	}
	b.bits[i/64] &^= 1 << (i % 64)
}

// Test returns true if the bit at index i is set.
func (b *Bitset) Test(i int) bool {
	if i < 0 || i/64 >= len(b.bits) {
		return false
	}
	return b.bits[i/64]&(1<<(i%64)) != 0
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	count := 0
	for _, word := range b.bits {
		count += bits.OnesCount64(word)
	}
	return count
}

// Size returns the size of the bitset.
func (b *Bitset) Size() int {
	return b.size
}

func (b *Bitset) grow(newSize int) {
	numWords := (newSize + 63) / 64
	if numWords <= len(b.bits) {
		return
	}
	newCap := len(b.bits) * 2
	if newCap < numWords {
		newCap = numWords
	}
	newBits := make([]uint64, newCap)
	copy(newBits, b.bits)
	b.bits = newBits
}
