// Package config loads settings for the headless realtime client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/plaza/go/internal/realtime/natsbridge"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	URL         string `yaml:"url"`
	Room        string `yaml:"room"`
	Username    string `yaml:"username"`
	AvatarURL   string `yaml:"avatar_url"`
	Token       string `yaml:"token"`
	AutoConnect bool   `yaml:"auto_connect"`
}

type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
}

// NATSConfig enables the event bridge when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ClientName    string `yaml:"client_name"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a complete configuration with no server URL.
func Default() Config {
	rc := session.DefaultReconnectConfig()
	nc := natsbridge.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Room:        "plaza",
			AutoConnect: true,
		},
		Reconnect: ReconnectConfig{
			Enabled:     rc.Enabled,
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   rc.BaseDelay,
			MaxDelay:    rc.MaxDelay,
			Multiplier:  rc.Multiplier,
			Jitter:      rc.JitterFactor,
		},
		NATS: NATSConfig{
			SubjectPrefix: nc.SubjectPrefix,
			ClientName:    nc.ClientName,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.URL = getEnv("PLAZA_SERVER_URL", c.Server.URL)
	c.Server.Room = getEnv("PLAZA_ROOM", c.Server.Room)
	c.Server.Username = getEnv("PLAZA_USERNAME", c.Server.Username)
	c.Server.Token = getEnv("PLAZA_TOKEN", c.Server.Token)
	c.NATS.URL = getEnv("PLAZA_NATS_URL", c.NATS.URL)
	c.Log.Level = getEnv("PLAZA_LOG_LEVEL", c.Log.Level)
	c.Reconnect.MaxAttempts = getEnvAsInt("PLAZA_RECONNECT_MAX_ATTEMPTS", c.Reconnect.MaxAttempts)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	r := c.Reconnect
	switch {
	case c.Server.Room == "":
		return errors.New("config: server.room is required")
	case r.BaseDelay < 0 || r.MaxDelay < 0:
		return fmt.Errorf("config: reconnect delays must not be negative (base %s, max %s)", r.BaseDelay, r.MaxDelay)
	case r.Multiplier < 1:
		return fmt.Errorf("config: reconnect.multiplier must be at least 1, got %g", r.Multiplier)
	case r.Jitter < 0 || r.Jitter > 1:
		return fmt.Errorf("config: reconnect.jitter must be within [0,1], got %g", r.Jitter)
	case r.MaxAttempts < 0:
		return fmt.Errorf("config: reconnect.max_attempts must not be negative, got %d", r.MaxAttempts)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}

// Session converts the settings into connector configuration.
func (c Config) Session() session.Config {
	return session.Config{
		Endpoint: c.Server.URL,
		Join: session.JoinOptions{
			RoomName:  c.Server.Room,
			Username:  c.Server.Username,
			AvatarURL: c.Server.AvatarURL,
			Token:     c.Server.Token,
		},
		AutoConnect: c.Server.AutoConnect,
		Reconnect: session.ReconnectConfig{
			Enabled:      c.Reconnect.Enabled,
			MaxAttempts:  c.Reconnect.MaxAttempts,
			BaseDelay:    c.Reconnect.BaseDelay,
			MaxDelay:     c.Reconnect.MaxDelay,
			Multiplier:   c.Reconnect.Multiplier,
			JitterFactor: c.Reconnect.Jitter,
		},
	}
}

// Bridge returns the NATS bridge configuration, or false when no NATS URL is
// configured.
func (c Config) Bridge() (natsbridge.Config, bool) {
	if c.NATS.URL == "" {
		return natsbridge.Config{}, false
	}
	nc := natsbridge.DefaultConfig()
	nc.URL = c.NATS.URL
	nc.SubjectPrefix = c.NATS.SubjectPrefix
	nc.ClientName = c.NATS.ClientName
	return nc, true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
