package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/camera-gateway/internal/session"
)

// mockSource returns fixed sessions and native statuses.
type mockSource struct {
	infos  []session.Info
	native map[string]session.Status
	fail   map[string]bool

	mu      sync.Mutex
	queried []string
	active  atomic.Int32
	peak    atomic.Int32
}

func (m *mockSource) Sessions() []session.Info {
	return m.infos
}

func (m *mockSource) QueryStatus(ctx context.Context, deviceID string) (session.Status, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	m.mu.Lock()
	m.queried = append(m.queried, deviceID)
	m.mu.Unlock()

	if m.fail[deviceID] {
		return 0, errors.New("sidecar unavailable")
	}
	return m.native[deviceID], nil
}

func info(id string, status session.Status) session.Info {
	return session.Info{Descriptor: session.Descriptor{DeviceID: id}, Status: status}
}

func TestPoller_PollAll(t *testing.T) {
	src := &mockSource{
		infos: []session.Info{
			info("cam-1", session.StatusConnected),
			info("cam-2", session.StatusConnected),
			info("cam-3", session.StatusIdle),
			info("cam-4", session.StatusStopped),
			info("cam-5", session.StatusConnecting),
		},
		native: map[string]session.Status{
			"cam-1": session.StatusConnected,
			"cam-2": session.StatusDisconnected,
		},
		fail: map[string]bool{"cam-5": true},
	}

	type drift struct {
		id             string
		cached, native session.Status
	}
	var mu sync.Mutex
	var drifts []drift
	handler := DriftHandlerFunc(func(id string, cached, native session.Status) {
		mu.Lock()
		drifts = append(drifts, drift{id, cached, native})
		mu.Unlock()
	})

	p := New(Config{Interval: time.Hour, Concurrency: 4, Timeout: time.Second}, src, handler, nil)
	p.ctx = context.Background()
	p.pollAll()

	// Idle and stopped sessions are skipped.
	if got := len(src.queried); got != 3 {
		t.Errorf("queried = %d sessions, want 3", got)
	}

	if len(drifts) != 1 {
		t.Fatalf("drifts = %d, want 1", len(drifts))
	}
	want := drift{"cam-2", session.StatusConnected, session.StatusDisconnected}
	if drifts[0] != want {
		t.Errorf("drift = %+v, want %+v", drifts[0], want)
	}

	stats := p.Stats()
	if stats.Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", stats.Cycles)
	}
	if stats.Queried != 2 {
		t.Errorf("Queried = %d, want 2", stats.Queried)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Drifts != 1 {
		t.Errorf("Drifts = %d, want 1", stats.Drifts)
	}
	if stats.LastRun.IsZero() {
		t.Error("LastRun should be set")
	}
}

func TestPoller_BoundedConcurrency(t *testing.T) {
	src := &mockSource{native: map[string]session.Status{}}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		src.infos = append(src.infos, info(id, session.StatusConnected))
		src.native[id] = session.StatusConnected
	}

	p := New(Config{Interval: time.Hour, Concurrency: 2, Timeout: time.Second}, src, nil, nil)
	p.ctx = context.Background()
	p.pollAll()

	if peak := src.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if got := p.Stats().Queried; got != 8 {
		t.Errorf("Queried = %d, want 8", got)
	}
}

func TestPoller_NoActiveSessions(t *testing.T) {
	src := &mockSource{infos: []session.Info{info("cam-1", session.StatusIdle)}}

	p := New(DefaultConfig(), src, nil, nil)
	p.ctx = context.Background()
	p.pollAll()

	if len(src.queried) != 0 {
		t.Errorf("queried = %v, want none", src.queried)
	}
	if got := p.Stats().Cycles; got != 1 {
		t.Errorf("Cycles = %d, want 1", got)
	}
}

func TestPoller_StartStop(t *testing.T) {
	src := &mockSource{
		infos:  []session.Info{info("cam-1", session.StatusConnected)},
		native: map[string]session.Status{"cam-1": session.StatusConnected},
	}

	p := New(Config{Interval: 10 * time.Millisecond, Concurrency: 1, Timeout: time.Second}, src, nil, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Cycles < 2 {
		if time.Now().After(deadline) {
			t.Fatal("poller did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
