package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

var (
	// ErrTransportUnavailable means no transport implementation is present at all.
	// It is not retried until the next manual Connect.
	ErrTransportUnavailable = errors.New("session: transport unavailable")
	// ErrNoEndpoint means Connect was requested before a server endpoint was configured.
	ErrNoEndpoint = errors.New("session: server endpoint not configured")
)

// JoinOptions are passed through to the transport on every connect attempt.
type JoinOptions struct {
	RoomName  string
	Username  string
	AvatarURL string
	Token     string
}

// Transport opens room connections. It is the low-level client the connector owns.
type Transport interface {
	Join(ctx context.Context, endpoint string, opts JoinOptions) (Room, error)
}

// Room is one joined server room. Callbacks registered on it are invoked on the
// dispatcher the transport was built with.
type Room interface {
	ID() string
	SessionID() string

	// Send forwards a named message. It does not wait for any acknowledgement.
	Send(name string, payload any) error
	// OnMessage binds fn to inbound messages with the given name.
	OnMessage(name string, fn func(payload json.RawMessage)) func()
	// OnLeave is called exactly once when the connection ends for any reason.
	OnLeave(fn func(LeaveInfo))
	// OnError is called for server-reported room errors.
	OnError(fn func(RoomErrorEvent))
	// Leave asks the server to close the room connection.
	Leave(consented bool) error

	Players() statesync.Collection[string, statesync.Player]
	Stations() statesync.Collection[string, statesync.Station]
}

// LeaveInfo describes why a room connection ended.
type LeaveInfo struct {
	Code   int
	Reason string
}

// Close codes reported in LeaveInfo.
const (
	CodeConsented = 1000
	CodeAbnormal  = 1006
)
