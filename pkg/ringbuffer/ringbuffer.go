// Package ringbuffer contains a bounded queue.
package ringbuffer

import (
	"fmt"
	"sync"
)

// RingBuffer is a bounded FIFO queue with a single consumer.
// Push never blocks; Pull blocks until an item is available or the buffer is closed.
type RingBuffer[T any] struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	count  int
	closed bool
}

// New allocates a RingBuffer.
func New[T any](size int) (*RingBuffer[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be positive")
	}

	r := &RingBuffer[T]{
		items: make([]T, size),
	}
	r.cond = sync.NewCond(&r.mutex)
	return r, nil
}

// Size returns the capacity of the buffer.
func (r *RingBuffer[T]) Size() int {
	return len(r.items)
}

// Len returns the number of queued items.
func (r *RingBuffer[T]) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}

// Close makes Pull() return false once the queue is drained,
// and Push() return false immediately.
func (r *RingBuffer[T]) Close() {
	r.mutex.Lock()
	r.closed = true
	r.mutex.Unlock()

	r.cond.Broadcast()
}

// Reset removes queued items and restores Pull() behavior after a Close().
func (r *RingBuffer[T]) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.count = 0
	r.closed = false
}

// Push appends an item at the end of the buffer.
// It returns false if the buffer is full or closed.
func (r *RingBuffer[T]) Push(item T) bool {
	r.mutex.Lock()

	if r.closed || r.count == len(r.items) {
		r.mutex.Unlock()
		return false
	}

	r.items[(r.head+r.count)%len(r.items)] = item
	r.count++
	r.mutex.Unlock()

	r.cond.Signal()
	return true
}

// Pull removes an item from the beginning of the buffer.
func (r *RingBuffer[T]) Pull() (T, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for r.count == 0 {
		if r.closed {
			var zero T
			return zero, false
		}
		r.cond.Wait()
	}

	item := r.items[r.head]

	var zero T
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.count--

	return item, true
}
