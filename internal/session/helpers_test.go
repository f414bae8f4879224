package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/camera-gateway/internal/native/nativetest"
)

// fakeClock records reconnect timers. Zero-delay timers fire immediately;
// the rest fire only when the test calls fire.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) stopper {
	t := &fakeTimer{delay: d, fn: f}
	if d == 0 {
		go f()
		return t
	}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.delay
	}
	return out
}

// fire runs the callback of timer i, even if it was stopped.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.fn()
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// collector gathers events delivered to a subscriber.
type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.mu.Unlock()
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

func (c *collector[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Decode.FrameInterval = 0
	return cfg
}

// newTestManager returns an initialized manager over a fake library.
func newTestManager(t *testing.T) (*Manager, *nativetest.Library, *fakeClock) {
	t.Helper()
	lib := nativetest.New()
	clock := &fakeClock{}
	m := NewManager(lib, testConfig(), nil)
	m.after = clock.afterFunc
	if err := m.Init(context.Background(), "api.example.com", "client", "token"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() {
		m.Deinit(context.Background())
	})
	return m, lib, clock
}

func newTestSession(t *testing.T, channels int) (*Session, *nativetest.Library, *fakeClock) {
	t.Helper()
	m, lib, clock := newTestManager(t)
	s, err := m.CreateSession(Descriptor{DeviceID: "cam-1", Model: "model-x", ChannelCount: channels})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return s, lib, clock
}
