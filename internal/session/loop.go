package session

import (
	"context"
	"time"

	"github.com/rickgao/camera-gateway/internal/queue"
)

// loop is a session's control loop: a single goroutine draining a mailbox of
// closures. Posting never blocks, so native threads can trampoline onto it
// without waiting on the session.
type loop struct {
	mailbox *queue.Growable[func()]
	done    chan struct{}
}

func newLoop(size int) *loop {
	l := &loop{
		mailbox: queue.NewGrowable[func()](size),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.done)
	for {
		fn, ok := l.mailbox.Receive()
		if !ok {
			return
		}
		fn()
	}
}

// post enqueues fn. Returns false once the loop is closed.
func (l *loop) post(fn func()) bool {
	return l.mailbox.Send(fn)
}

// call runs fn on the loop and waits for it to finish.
// Must not be called from the loop itself.
func (l *loop) call(fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrSessionClosed
	}
	// The loop drains its mailbox before exiting, so fn always runs.
	<-finished
	return nil
}

// close stops accepting work, runs what is queued and waits for the loop.
func (l *loop) close() {
	l.mailbox.Close()
	<-l.done
}

func (l *loop) stats() queue.Stats {
	return l.mailbox.Stats()
}

// stopper is the part of *time.Timer the session uses.
type stopper interface {
	Stop() bool
}

// afterFunc schedules f after d. Replaced in tests.
type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// offload runs a blocking native call on its own goroutine and waits for it
// or ctx. On cancellation the call keeps running and its result is discarded.
func offload[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
