// Package wsroom is a session.Transport that joins plaza rooms over a JSON
// websocket protocol.
package wsroom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/events"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
)

var (
	// ErrNotConnected is returned by Send after the room connection has ended.
	ErrNotConnected = errors.New("wsroom: not connected")
	// ErrJoinRejected is returned when the server answers the join with an error frame.
	ErrJoinRejected = errors.New("wsroom: join rejected")
	// ErrSendBufferFull is returned when outbound frames are produced faster than
	// they can be written.
	ErrSendBufferFull = errors.New("wsroom: send buffer full")
)

// Config holds websocket tuning for room connections.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
}

// DefaultConfig returns default websocket settings.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		SendBufferSize:   256,
	}
}

// Transport dials room websockets. Room callbacks run on dispatch.
type Transport struct {
	cfg      Config
	dispatch bus.Dispatcher
}

// NewTransport creates a transport.
func NewTransport(cfg Config, dispatch bus.Dispatcher) *Transport {
	return &Transport{cfg: cfg, dispatch: dispatch}
}

// RoomURL builds the websocket URL for joining a room at endpoint. http and
// https endpoints are mapped to ws and wss.
func RoomURL(endpoint string, opts session.JoinOptions) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if opts.RoomName == "" {
		return "", errors.New("room name is required")
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/rooms/" + url.PathEscape(opts.RoomName)
	q := u.Query()
	if opts.Username != "" {
		q.Set("username", opts.Username)
	}
	if opts.AvatarURL != "" {
		q.Set("avatar_url", opts.AvatarURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Join dials the room and waits for the server's joined frame. The handshake
// timeout covers both the websocket upgrade and the joined frame.
func (t *Transport) Join(ctx context.Context, endpoint string, opts session.JoinOptions) (session.Room, error) {
	target, err := RoomURL(endpoint, opts)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	header := http.Header{}
	header.Set("X-Request-ID", requestID)
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial room (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial room: %w", err)
	}

	deadline := time.Now().Add(t.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadLimit(t.cfg.MaxMessageSize)
	conn.SetReadDeadline(deadline)

	var env events.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read joined frame: %w", err)
	}
	switch env.Type {
	case events.FrameJoined:
	case events.FrameError:
		conn.Close()
		return nil, fmt.Errorf("%w: %s (code %d)", ErrJoinRejected, env.Message, env.Code)
	default:
		conn.Close()
		return nil, fmt.Errorf("expected joined frame, got %q", env.Type)
	}

	room := newRoom(conn, t.cfg, t.dispatch, env)
	room.start()

	log.Info().
		Str("request_id", requestID).
		Str("room_id", room.ID()).
		Str("session_id", room.SessionID()).
		Int("players", room.state.Players.Len()).
		Int("stations", room.state.Stations.Len()).
		Msg("joined room")
	return room, nil
}
