package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plaza.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	r := cfg.Reconnect
	if r.BaseDelay != time.Second || r.MaxDelay != 10*time.Second || r.Multiplier != 1.6 || r.Jitter != 0.2 {
		t.Errorf("reconnect defaults = %+v", r)
	}
	if _, ok := cfg.Bridge(); ok {
		t.Error("bridge enabled without a NATS URL")
	}
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  url: wss://plaza.example.com
  username: ana
reconnect:
  base_delay: 500ms
  max_attempts: 5
nats:
  url: nats://localhost:4222
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sc := cfg.Session()
	if sc.Endpoint != "wss://plaza.example.com" || sc.Join.Username != "ana" || sc.Join.RoomName != "plaza" {
		t.Errorf("session config = %+v", sc)
	}
	if sc.Reconnect.BaseDelay != 500*time.Millisecond || sc.Reconnect.MaxAttempts != 5 {
		t.Errorf("reconnect = %+v", sc.Reconnect)
	}
	// untouched keys keep their defaults
	if sc.Reconnect.MaxDelay != 10*time.Second || !sc.Reconnect.Enabled || !sc.AutoConnect {
		t.Errorf("defaults lost: %+v", sc)
	}

	nc, ok := cfg.Bridge()
	if !ok || nc.URL != "nats://localhost:4222" || nc.SubjectPrefix != "plaza" {
		t.Errorf("bridge = %+v, %v", nc, ok)
	}
	if level, _ := cfg.LogLevel(); level != zerolog.DebugLevel {
		t.Errorf("level = %s", level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PLAZA_SERVER_URL", "ws://localhost:2567")
	t.Setenv("PLAZA_ROOM", "lobby")
	t.Setenv("PLAZA_USERNAME", "bo")
	t.Setenv("PLAZA_RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("PLAZA_LOG_LEVEL", "warn")

	cfg, err := Load(writeFile(t, "server:\n  url: ws://ignored\n  username: ana\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "ws://localhost:2567" || cfg.Server.Room != "lobby" || cfg.Server.Username != "bo" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Reconnect.MaxAttempts != 3 || cfg.Log.Level != "warn" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"negative delay", "reconnect:\n  base_delay: -1s\n", "negative"},
		{"multiplier", "reconnect:\n  multiplier: 0.5\n", "multiplier"},
		{"jitter", "reconnect:\n  jitter: 1.5\n", "jitter"},
		{"level", "log:\n  level: loud\n", "log.level"},
		{"empty room", "server:\n  room: \"\"\n", "server.room"},
		{"bad yaml", "server: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file loaded")
	}
}
