// File: reactor/ring.go
// Package reactor implements the deferred-task ring.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ringBuffer is a bounded circular queue holding the loop's end-of-tick
// teardown tasks. Only the goroutine driving the loop touches it, so
// head/tail are plain counters; the power-of-two mask keeps wraparound
// branch-free.

package reactor

type ringBuffer[T any] struct {
	data []T
	mask uint64
	head uint64
	tail uint64
}

// newRingBuffer allocates a ring buffer of power-of-two size.
func newRingBuffer[T any](size uint64) *ringBuffer[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("size must be power of two")
	}
	return &ringBuffer[T]{
		data: make([]T, size),
		mask: size - 1,
	}
}

// Enqueue adds item; returns false if full.
func (r *ringBuffer[T]) Enqueue(item T) bool {
	if r.tail-r.head >= uint64(len(r.data)) {
		return false
	}
	r.data[r.tail&r.mask] = item
	r.tail++
	return true
}

// Dequeue removes and returns item; ok false if empty.
func (r *ringBuffer[T]) Dequeue() (T, bool) {
	if r.head >= r.tail {
		var zero T
		return zero, false
	}
	item := r.data[r.head&r.mask]
	var zero T
	r.data[r.head&r.mask] = zero
	r.head++
	return item, true
}

// Len returns number of items currently in buffer.
func (r *ringBuffer[T]) Len() int {
	return int(r.tail - r.head)
}
