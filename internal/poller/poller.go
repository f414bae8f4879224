package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/camera-gateway/internal/session"
)

// SessionSource provides sessions to poll.
type SessionSource interface {
	Sessions() []session.Info
	QueryStatus(ctx context.Context, deviceID string) (session.Status, error)
}

// DriftHandler receives a session whose native status differs from its cached
// status.
type DriftHandler interface {
	HandleDrift(deviceID string, cached, native session.Status)
}

// DriftHandlerFunc is a function adapter for DriftHandler.
type DriftHandlerFunc func(deviceID string, cached, native session.Status)

func (f DriftHandlerFunc) HandleDrift(deviceID string, cached, native session.Status) {
	f(deviceID, cached, native)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 1m)
	Concurrency int           // Max concurrent queries (default: 8)
	Timeout     time.Duration // Per-query timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 8,
		Timeout:     5 * time.Second,
	}
}

// Stats contains poller statistics.
type Stats struct {
	Cycles  int64
	Queried int64
	Errors  int64
	Drifts  int64
	LastRun time.Time
}

// Poller periodically reconciles cached session status with the native layer.
type Poller struct {
	cfg     Config
	source  SessionSource
	handler DriftHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles  atomic.Int64
	queried atomic.Int64
	errors  atomic.Int64
	drifts  atomic.Int64
	lastRun atomic.Int64 // Unix nanos
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, source SessionSource, handler DriftHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("status poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	s := Stats{
		Cycles:  p.cycles.Load(),
		Queried: p.queried.Load(),
		Errors:  p.errors.Load(),
		Drifts:  p.drifts.Load(),
	}
	if ns := p.lastRun.Load(); ns != 0 {
		s.LastRun = time.Unix(0, ns)
	}
	return s
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// active reports whether a session has a run the native layer knows about.
func active(s session.Status) bool {
	return s != session.StatusIdle && s != session.StatusStopped
}

// pollAll queries every active session concurrently.
func (p *Poller) pollAll() {
	start := time.Now()
	defer func() {
		p.cycles.Add(1)
		p.lastRun.Store(start.UnixNano())
	}()

	var targets []session.Info
	for _, info := range p.source.Sessions() {
		if active(info.Status) {
			targets = append(targets, info)
		}
	}
	if len(targets) == 0 {
		p.logger.Debug("no active sessions to poll")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, info := range targets {
		wg.Add(1)
		go func(info session.Info) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			p.pollSession(info)
		}(info)
	}

	wg.Wait()

	p.logger.Debug("status poll complete",
		"sessions", len(targets),
		"duration", time.Since(start),
	)
}

func (p *Poller) pollSession(info session.Info) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	native, err := p.source.QueryStatus(ctx, info.DeviceID)
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("failed to query status",
			"device_id", info.DeviceID,
			"error", err,
		)
		return
	}
	p.queried.Add(1)

	if native == info.Status {
		return
	}
	p.drifts.Add(1)
	p.logger.Warn("session status drifted",
		"device_id", info.DeviceID,
		"cached", info.Status,
		"native", native,
	)
	if p.handler != nil {
		p.handler.HandleDrift(info.DeviceID, info.Status, native)
	}
}
