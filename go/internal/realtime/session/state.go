package session

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// ConnectionState is the connector's coarse lifecycle state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	// StateReconnecting is Disconnected with a reconnect timer pending.
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Session is the single mutable record of the current network session. The
// Connector is its only writer; the router and reconcilers receive it by
// reference and only read it.
type Session struct {
	mu sync.RWMutex

	client           Transport
	room             Room
	sessionID        string
	isConnecting     bool
	retryAttempt     int
	manualDisconnect bool
	shouldReconnect  bool

	// set when the transport is missing entirely; cleared by a manual Connect
	transportUnavailable bool
	// one-shot request that the next Disconnect keep reconnection alive
	preserveNextDisconnect bool

	reconnectTimer clockwork.Timer
	timerStop      chan struct{}
	timerGen       uint64
}

func newSession(reconnectEnabled bool) *Session {
	return &Session{shouldReconnect: reconnectEnabled}
}

// Room returns the joined room, or nil while not connected.
func (s *Session) Room() Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// Client returns the transport handle in use for the current room.
func (s *Session) Client() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// SessionID returns the id the server assigned this client, or "".
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) IsConnecting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnecting
}

func (s *Session) RetryAttempt() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryAttempt
}

func (s *Session) ManualDisconnect() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manualDisconnect
}

// ShouldReconnect is true when reconnection is enabled and the last disconnect
// was not requested explicitly.
func (s *Session) ShouldReconnect() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shouldReconnect && !s.manualDisconnect
}

// ReconnectPending reports whether a reconnect timer is armed.
func (s *Session) ReconnectPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectTimer != nil
}

// State derives the coarse lifecycle state.
func (s *Session) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.isConnecting:
		return StateConnecting
	case s.room != nil:
		return StateConnected
	case s.reconnectTimer != nil:
		return StateReconnecting
	default:
		return StateDisconnected
	}
}

func (s *Session) update(fn func(s *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}
