package backoff

import (
	"errors"
	"sync"
	"time"
)

// Default reconnect bounds for camera sessions.
const (
	DefaultFloor   = 30 * time.Second
	DefaultCeiling = 600 * time.Second
)

// Policy is a pure backoff calculator.
type Policy struct {
	Floor   time.Duration // Initial delay, returned by Reset
	Ceiling time.Duration // Upper bound for Next
}

// DefaultPolicy returns the camera reconnect policy (30s floor, 10m ceiling).
func DefaultPolicy() Policy {
	return Policy{
		Floor:   DefaultFloor,
		Ceiling: DefaultCeiling,
	}
}

// Validate checks that the bounds are usable.
func (p Policy) Validate() error {
	if p.Floor <= 0 {
		return errors.New("backoff floor must be > 0")
	}
	if p.Ceiling < p.Floor {
		return errors.New("backoff ceiling must be >= floor")
	}
	return nil
}

// Next returns min(current*2, Ceiling).
func (p Policy) Next(current time.Duration) time.Duration {
	next := current * 2
	if next > p.Ceiling || next < current { // overflow guard
		next = p.Ceiling
	}
	return next
}

// Reset returns the floor delay.
func (p Policy) Reset() time.Duration {
	return p.Floor
}

// Backoff tracks the current delay of a Policy.
type Backoff struct {
	mu      sync.Mutex
	policy  Policy
	current time.Duration
}

// New creates a Backoff positioned at the policy floor.
func New(policy Policy) *Backoff {
	return &Backoff{
		policy:  policy,
		current: policy.Reset(),
	}
}

// Current returns the delay without advancing.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Next advances the delay and returns the new value.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.policy.Next(b.current)
	return b.current
}

// Reset returns the delay to the floor.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.policy.Reset()
}

// Policy returns the underlying policy.
func (b *Backoff) Policy() Policy {
	return b.policy
}
