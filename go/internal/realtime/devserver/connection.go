package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/events"
)

// Connection represents a WebSocket connection to a player
type Connection struct {
	SessionID string
	Username  string
	AvatarURL string
	Conn      *websocket.Conn

	hub  *Hub
	room *room
	send chan []byte

	// Connection metadata
	ConnectedAt time.Time

	mu        sync.Mutex
	closed    bool
	consented bool
}

// enqueue hands a frame to the write pump. A full buffer means the client is
// slow or gone, so the connection is closed. Requires room.mu.
func (c *Connection) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("session_id", c.SessionID).
			Msg("connection send buffer full, closing connection")
		c.Conn.Close()
	}
}

// closeSend stops the write pump. Requires room.mu.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Connection) markConsented() {
	c.mu.Lock()
	c.consented = true
	c.mu.Unlock()
}

// Consented reports whether the client announced its leave.
func (c *Connection) Consented() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consented
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.hub.config.Connection
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("session_id", c.SessionID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("session_id", c.SessionID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading frames from the WebSocket connection
func (c *Connection) readPump() {
	cfg := c.hub.config.Connection
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("session_id", c.SessionID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

// handleClientMessage applies one client frame to the room
func (c *Connection) handleClientMessage(message []byte) {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Debug().
			Err(err).
			Str("session_id", c.SessionID).
			Msg("dropping malformed client frame")
		return
	}

	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	c.room.handle(c, env)
}
