package devserver

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// development server, any origin
			return true
		},
	}
}

// StationSeed describes a station every new room starts with.
type StationSeed struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// Config holds hub configuration.
type Config struct {
	Connection    ConnectionConfig
	Stations      []StationSeed
	StatsInterval time.Duration
}

// DefaultConfig returns a hub with eight unclaimed stations.
func DefaultConfig() Config {
	stations := make([]StationSeed, 0, 8)
	for i := 1; i <= 8; i++ {
		stations = append(stations, StationSeed{ID: fmt.Sprintf("station-%d", i)})
	}
	return Config{
		Connection:    DefaultConnectionConfig(),
		Stations:      stations,
		StatsInterval: time.Minute,
	}
}

type seedFile struct {
	Stations []StationSeed `yaml:"stations"`
}

// LoadStationSeeds reads the station layout from a YAML file:
//
//	stations:
//	  - id: station-1
//	    text: "Commissions open"
func LoadStationSeeds(path string) ([]StationSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read station seeds: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse station seeds: %w", err)
	}

	seen := make(map[string]bool, len(f.Stations))
	for _, s := range f.Stations {
		if s.ID == "" {
			return nil, fmt.Errorf("station seed without id in %s", path)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate station id %q in %s", s.ID, path)
		}
		seen[s.ID] = true
	}
	return f.Stations, nil
}
