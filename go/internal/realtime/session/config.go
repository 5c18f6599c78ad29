package session

import "time"

// ReconnectConfig controls the backoff scheduler.
type ReconnectConfig struct {
	Enabled      bool
	MaxAttempts  int // 0 means unlimited
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // fraction of the raw delay, applied as ±
}

// Config holds connector settings.
type Config struct {
	Endpoint    string
	Join        JoinOptions
	AutoConnect bool // connect as soon as ConfigReady supplies an endpoint
	Reconnect   ReconnectConfig
}

// DefaultReconnectConfig returns the default backoff schedule.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:      true,
		MaxAttempts:  0,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   1.6,
		JitterFactor: 0.2,
	}
}

// DefaultConfig returns connector defaults without an endpoint.
func DefaultConfig() Config {
	return Config{
		Join: JoinOptions{
			RoomName: "plaza",
		},
		AutoConnect: true,
		Reconnect:   DefaultReconnectConfig(),
	}
}
