package router

import (
	"sync"
)

// GrowableBuffer is an unbounded FIFO queue backed by a ring that doubles
// when full. Producers never block, so a slow consumer cannot stall the
// transport read loop. Items come out in the order they went in.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	count  int
	closed bool

	// ready holds at most one pending wakeup for select-based consumers.
	ready chan struct{}

	enqueued int64
	dequeued int64
	peak     int
	grows    int
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{
		ring:  make([]T, initialCapacity),
		ready: make(chan struct{}, 1),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item. Returns false if the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if b.count == len(b.ring) {
		b.grow()
	}
	b.ring[(b.head+b.count)%len(b.ring)] = item
	b.count++
	b.enqueued++
	b.peak = max(b.peak, b.count)
	b.cond.Signal()
	b.mu.Unlock()

	b.notify()
	return true
}

// Receive removes the oldest item, blocking until one is available.
// Returns false once the buffer is closed and drained.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// TryReceive removes the oldest item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// DrainTo removes up to max items (all of them when max <= 0) in order.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.pop()
	}
	return out
}

// Ready is signalled after Send and Close. A consumer selecting on it
// should drain until empty, since several sends may share one signal.
func (b *GrowableBuffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Close stops accepting items. Queued items remain receivable.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	b.notify()
}

// Closed reports whether Close has been called.
func (b *GrowableBuffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring size.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Peak     int
	Grows    int
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:    b.count,
		Capacity: len(b.ring),
		Enqueued: b.enqueued,
		Dequeued: b.dequeued,
		Peak:     b.peak,
		Grows:    b.grows,
	}
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *GrowableBuffer[T]) pop() T {
	var zero T
	item := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.dequeued++
	return item
}

// grow doubles the ring, unwrapping items to start at index 0. Must be
// called with lock held.
func (b *GrowableBuffer[T]) grow() {
	next := make([]T, len(b.ring)*2)
	n := copy(next, b.ring[b.head:])
	copy(next[n:], b.ring[:b.head])
	b.ring = next
	b.head = 0
	b.grows++
}

func (b *GrowableBuffer[T]) notify() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
