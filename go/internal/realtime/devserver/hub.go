// Package devserver is an authoritative plaza room server for local
// development and integration tests. It speaks the same websocket protocol as
// production: a joined snapshot, then collection patches and named messages.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/events"
)

// Hub manages rooms and the WebSocket connections joined to them
type Hub struct {
	config   Config
	clock    clockwork.Clock
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]*room
}

// NewHub creates a hub. A nil clock uses the real clock.
func NewHub(config Config, clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		config: config,
		clock:  clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.Connection.ReadBufferSize,
			WriteBufferSize: config.Connection.WriteBufferSize,
			CheckOrigin:     config.Connection.CheckOrigin,
		},
		rooms: make(map[string]*room),
	}
}

// Run logs room statistics periodically and closes every connection when ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("room hub started")

	ticker := h.clock.NewTicker(h.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room hub shutting down")
			h.closeAll(websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.Chan():
			stats := h.Stats()
			log.Info().
				Int("total_connections", stats.TotalConnections).
				Int("rooms", len(stats.Rooms)).
				Msg("room hub stats")
		}
	}
}

func (h *Hub) roomFor(name string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(name, h.config.Stations, h.clock.Now)
		h.rooms[name] = r
		log.Info().Str("room", name).Int("stations", len(h.config.Stations)).Msg("room created")
	}
	return r
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and joins it to a room
func (h *Hub) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomName, username, avatarURL string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	rm := h.roomFor(roomName)
	c := &Connection{
		SessionID:   uuid.New().String(),
		Username:    username,
		AvatarURL:   avatarURL,
		Conn:        conn,
		hub:         h,
		room:        rm,
		send:        make(chan []byte, h.config.Connection.SendBufferSize),
		ConnectedAt: h.clock.Now(),
	}

	rm.mu.Lock()
	rm.join(c)
	players := rm.state.Players.Len()
	rm.mu.Unlock()

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("session_id", c.SessionID).
		Str("username", username).
		Str("room", roomName).
		Str("request_id", r.Header.Get("X-Request-ID")).
		Int("players", players).
		Msg("player joined")
	return nil
}

// unregister removes a connection from its room
func (h *Hub) unregister(c *Connection) {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()

	if !c.room.leave(c) {
		return
	}
	c.closeSend()

	log.Info().
		Str("session_id", c.SessionID).
		Str("room", c.room.name).
		Bool("consented", c.Consented()).
		Dur("connected_for", h.clock.Since(c.ConnectedAt)).
		Msg("player left")
}

func (h *Hub) connection(sessionID string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.rooms {
		r.mu.Lock()
		c, ok := r.conns[sessionID]
		r.mu.Unlock()
		if ok {
			return c
		}
	}
	return nil
}

// Kick drops a session with the given close code, as a server fault or
// moderation action would.
func (h *Hub) Kick(sessionID string, code int, reason string) bool {
	c := h.connection(sessionID)
	if c == nil {
		return false
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("failed to send close frame")
	}
	c.Conn.Close()
	log.Info().Str("session_id", sessionID).Int("code", code).Str("reason", reason).Msg("session kicked")
	return true
}

func (h *Hub) closeAll(code int, reason string) {
	h.mu.RLock()
	var conns []*Connection
	for _, r := range h.rooms {
		r.mu.Lock()
		for _, c := range r.conns {
			conns = append(conns, c)
		}
		r.mu.Unlock()
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.Kick(c.SessionID, code, reason)
	}
}

// RoomStats summarizes one room.
type RoomStats struct {
	Players         int `json:"players"`
	Stations        int `json:"stations"`
	ClaimedStations int `json:"claimed_stations"`
}

// Stats summarizes the hub.
type Stats struct {
	TotalConnections int                  `json:"total_connections"`
	Rooms            map[string]RoomStats `json:"rooms"`
}

// Stats returns statistics about rooms and active connections
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{Rooms: make(map[string]RoomStats, len(h.rooms))}
	for name, r := range h.rooms {
		r.mu.Lock()
		rs := RoomStats{
			Players:  len(r.conns),
			Stations: r.state.Stations.Len(),
		}
		for _, id := range r.state.Stations.Keys() {
			if st, _ := r.state.Stations.Get(id); st.Claimed() {
				rs.ClaimedStations++
			}
		}
		r.mu.Unlock()
		stats.TotalConnections += rs.Players
		stats.Rooms[name] = rs
	}
	return stats
}

// Snapshot returns a copy of a room's state, or false if the room does not exist.
func (h *Hub) Snapshot(roomName string) (*events.Snapshot, bool) {
	h.mu.RLock()
	r, ok := h.rooms[roomName]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), true
}

// Sessions returns the session ids joined to a room, sorted.
func (h *Hub) Sessions(roomName string) []string {
	h.mu.RLock()
	r, ok := h.rooms[roomName]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
