package queue

// ring is a circular buffer. Not safe for concurrent use.
type ring[T any] struct {
	buf   []T
	head  int // read position
	tail  int // write position
	count int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) cap() int {
	return len(r.buf)
}

func (r *ring[T]) full() bool {
	return r.count == len(r.buf)
}

func (r *ring[T]) push(item T) {
	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
}

func (r *ring[T]) pop() T {
	item := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero // release for GC
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return item
}

// grow doubles the capacity, unwrapping the contents to start at index 0.
func (r *ring[T]) grow() {
	next := make([]T, len(r.buf)*2)
	if r.count > 0 {
		if r.head < r.tail {
			copy(next, r.buf[r.head:r.tail])
		} else {
			n := copy(next, r.buf[r.head:])
			copy(next[n:], r.buf[:r.tail])
		}
	}
	r.buf = next
	r.head = 0
	r.tail = r.count
}
