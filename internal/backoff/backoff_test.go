package backoff

import (
	"testing"
	"time"
)

func TestPolicy_Next(t *testing.T) {
	p := Policy{Floor: 30 * time.Second, Ceiling: 600 * time.Second}

	tests := []struct {
		name    string
		current time.Duration
		want    time.Duration
	}{
		{"from floor", 30 * time.Second, 60 * time.Second},
		{"doubles", 120 * time.Second, 240 * time.Second},
		{"capped", 480 * time.Second, 600 * time.Second},
		{"at ceiling", 600 * time.Second, 600 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Next(tt.current); got != tt.want {
				t.Errorf("Next(%v) = %v, want %v", tt.current, got, tt.want)
			}
		})
	}
}

func TestPolicy_Reset(t *testing.T) {
	p := DefaultPolicy()
	if got := p.Reset(); got != DefaultFloor {
		t.Errorf("Reset() = %v, want %v", got, DefaultFloor)
	}
}

func TestBackoff_ConsecutiveFailures(t *testing.T) {
	floor := 30 * time.Second
	ceiling := 600 * time.Second
	b := New(Policy{Floor: floor, Ceiling: ceiling})

	// After n failures the delay is min(F * 2^n, C).
	for n := 1; n <= 8; n++ {
		got := b.Next()
		want := floor << n
		if want > ceiling {
			want = ceiling
		}
		if got != want {
			t.Errorf("failure %d: delay = %v, want %v", n, got, want)
		}
	}
}

func TestBackoff_ResetAfterSuccess(t *testing.T) {
	b := New(Policy{Floor: 30 * time.Second, Ceiling: 600 * time.Second})

	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("failure %d: delay = %v, want %v", i+1, got, w)
		}
	}

	b.Reset()

	if got := b.Next(); got != 60*time.Second {
		t.Errorf("delay after reset = %v, want 60s", got)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       Policy
		wantErr bool
	}{
		{"valid", Policy{Floor: time.Second, Ceiling: time.Minute}, false},
		{"equal bounds", Policy{Floor: time.Second, Ceiling: time.Second}, false},
		{"zero floor", Policy{Floor: 0, Ceiling: time.Minute}, true},
		{"ceiling below floor", Policy{Floor: time.Minute, Ceiling: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
