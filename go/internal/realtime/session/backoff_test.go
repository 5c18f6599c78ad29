package session

import (
	"testing"
	"time"
)

func specBackoff() ReconnectConfig {
	return ReconnectConfig{
		Enabled:    true,
		BaseDelay:  1000 * time.Millisecond,
		Multiplier: 1.6,
		MaxDelay:   10000 * time.Millisecond,
	}
}

func TestRawBackoffDelay(t *testing.T) {
	cfg := specBackoff()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1000 * time.Millisecond},
		{2, 1600 * time.Millisecond},
		{5, 6553600 * time.Microsecond},
		{10, 10000 * time.Millisecond},
		{50, 10000 * time.Millisecond},
	}
	for _, tt := range tests {
		got := RawBackoffDelay(cfg, tt.attempt)
		if diff := got - tt.want; diff < -time.Microsecond || diff > time.Microsecond {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRawBackoffDelay_MonotonicAndCapped(t *testing.T) {
	cfg := specBackoff()
	prev := time.Duration(0)
	capped := false
	for n := 1; n <= 30; n++ {
		d := RawBackoffDelay(cfg, n)
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", n, d, prev)
		}
		if d > cfg.MaxDelay {
			t.Fatalf("attempt %d: delay %v exceeds cap", n, d)
		}
		if capped && d != cfg.MaxDelay {
			t.Fatalf("attempt %d: delay %v left the cap", n, d)
		}
		if d == cfg.MaxDelay {
			capped = true
		}
		prev = d
	}
	if !capped {
		t.Error("delay never reached the cap")
	}
}

func TestNextBackoffDelay_Jitter(t *testing.T) {
	cfg := specBackoff()
	cfg.JitterFactor = 0.5

	tests := []struct {
		name   string
		jitter func() float64
		want   time.Duration
	}{
		{"no jitter source", nil, 1000 * time.Millisecond},
		{"max positive", func() float64 { return 1 }, 1500 * time.Millisecond},
		{"max negative", func() float64 { return -1 }, 500 * time.Millisecond},
		{"out of range is clamped", func() float64 { return 7 }, 1500 * time.Millisecond},
		{"rounded", func() float64 { return 0.0001234 }, 1000 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextBackoffDelay(cfg, 1, tt.jitter); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextBackoffDelay_NeverNegative(t *testing.T) {
	cfg := specBackoff()
	cfg.JitterFactor = 3
	if got := NextBackoffDelay(cfg, 1, func() float64 { return -1 }); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}
