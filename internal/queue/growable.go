package queue

import (
	"sync"
)

// Growable is a thread-safe FIFO that doubles its capacity when it reaches
// 70% full. Send never blocks.
type Growable[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   ring[T]
	closed bool

	totalReceived int64
	totalSent     int64
	resizeCount   int
}

// NewGrowable creates a queue with the given initial capacity.
func NewGrowable[T any](initialCapacity int) *Growable[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Growable[T]{
		ring: newRing[T](initialCapacity),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends an item. Returns false if the queue is closed.
func (q *Growable[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.ring.cap() * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.ring.count+1 >= threshold {
		q.ring.grow()
		q.resizeCount++
	}

	q.ring.push(item)
	q.totalReceived++
	q.cond.Signal()
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available. Returns false once the queue is closed and drained.
func (q *Growable[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.ring.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.ring.count == 0 {
		var zero T
		return zero, false
	}

	q.totalSent++
	return q.ring.pop(), true
}

// TryReceive returns the oldest item without blocking.
func (q *Growable[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ring.count == 0 {
		var zero T
		return zero, false
	}

	q.totalSent++
	return q.ring.pop(), true
}

// Close stops accepting items. Receivers drain what is left.
func (q *Growable[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Growable[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.count
}

// Cap returns the current capacity.
func (q *Growable[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.cap()
}

// Stats returns queue statistics.
func (q *Growable[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:         q.ring.count,
		Capacity:      q.ring.cap(),
		TotalReceived: q.totalReceived,
		TotalSent:     q.totalSent,
		ResizeCount:   q.resizeCount,
	}
}

// Stats contains queue statistics.
type Stats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
	Dropped       int64
}
