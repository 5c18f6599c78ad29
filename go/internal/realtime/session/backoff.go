package session

import (
	"math"
	"time"
)

// RawBackoffDelay returns the unjittered delay for attempt n (1-based):
// base * multiplier^(n-1), capped at MaxDelay.
func RawBackoffDelay(cfg ReconnectConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		return 0
	}
	multiplier := cfg.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}

	delay := float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// NextBackoffDelay returns the jittered delay for attempt n. jitter must return
// a value in [-1, 1]; nil means no jitter. The result is never negative and is
// rounded to the millisecond.
func NextBackoffDelay(cfg ReconnectConfig, attempt int, jitter func() float64) time.Duration {
	raw := float64(RawBackoffDelay(cfg, attempt))
	delay := raw
	if jitter != nil && cfg.JitterFactor > 0 {
		r := math.Max(-1, math.Min(1, jitter()))
		delay = raw + raw*cfg.JitterFactor*r
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay).Round(time.Millisecond)
}
