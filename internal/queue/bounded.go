package queue

import (
	"fmt"
	"strings"
	"sync"
)

// DropPolicy selects which item a full Bounded queue discards.
type DropPolicy int

const (
	// DropOldest evicts the head to make room; the newest item always lands.
	DropOldest DropPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
)

func (p DropPolicy) String() string {
	if p == DropNewest {
		return "newest"
	}
	return "oldest"
}

// ParseDropPolicy parses "oldest" or "newest".
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(s) {
	case "", "oldest":
		return DropOldest, nil
	case "newest":
		return DropNewest, nil
	}
	return DropOldest, fmt.Errorf("unknown drop policy %q", s)
}

// Bounded is a fixed-capacity FIFO. Push never blocks; when full, one item is
// dropped according to the policy.
type Bounded[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   ring[T]
	policy DropPolicy
	closed bool

	totalReceived int64
	totalSent     int64
	dropped       int64
}

// NewBounded creates a queue holding at most capacity items.
func NewBounded[T any](capacity int, policy DropPolicy) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Bounded[T]{
		ring:   newRing[T](capacity),
		policy: policy,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues item. accepted is false if the queue is closed or the item
// itself was dropped; dropped is true whenever any item was discarded.
func (q *Bounded[T]) Push(item T) (accepted, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, false
	}

	if q.ring.full() {
		q.dropped++
		if q.policy == DropNewest {
			return false, true
		}
		q.ring.pop()
		dropped = true
	}

	q.ring.push(item)
	q.totalReceived++
	q.cond.Signal()
	return true, dropped
}

// Receive blocks until an item is available. Returns false once closed;
// items still queued at Close are discarded.
func (q *Bounded[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.ring.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.closed {
		var zero T
		return zero, false
	}

	q.totalSent++
	return q.ring.pop(), true
}

// TryReceive returns the oldest item without blocking.
func (q *Bounded[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ring.count == 0 || q.closed {
		var zero T
		return zero, false
	}

	q.totalSent++
	return q.ring.pop(), true
}

// Close wakes all receivers and discards queued items.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for q.ring.count > 0 {
		q.ring.pop()
	}
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.count
}

// Stats returns queue statistics.
func (q *Bounded[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:         q.ring.count,
		Capacity:      q.ring.cap(),
		TotalReceived: q.totalReceived,
		TotalSent:     q.totalSent,
		Dropped:       q.dropped,
	}
}
