// Package ring implements a fixed capacity circular buffer.
package ring

// Ring is a FIFO circular buffer. The zero Ring has no capacity.
type Ring[T any] struct {
	elems      []T
	start, len int
}

func New[T any](capacity int) Ring[T] {
	return Ring[T]{elems: make([]T, capacity)}
}

// Cap returns the total capacity.
func (b *Ring[T]) Cap() int {
	return len(b.elems)
}

// Free returns the number of elements that can be pushed.
func (b *Ring[T]) Free() int {
	return len(b.elems) - b.len
}

func (b *Ring[T]) Len() int {
	return b.len
}

// At returns the i'th oldest element.
func (b *Ring[T]) At(i int) T {
	if i < 0 || b.len <= i {
		panic("index out of range")
	}
	idx := (b.start + i) % len(b.elems)
	return b.elems[idx]
}

func (b *Ring[T]) Push(v T) {
	if b.Free() == 0 {
		panic("ring overflow")
	}
	idx := (b.start + b.len) % len(b.elems)
	b.elems[idx] = v
	b.len++
}

// Pop removes and returns the oldest element.
func (b *Ring[T]) Pop() T {
	if b.len == 0 {
		panic("ring underflow")
	}
	var zero T
	v := b.elems[b.start]
	b.elems[b.start] = zero
	b.start = (b.start + 1) % len(b.elems)
	b.len--
	return v
}

// Reset empties the buffer.
func (b *Ring[T]) Reset() {
	clear(b.elems)
	b.start, b.len = 0, 0
}
