package wsroom

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/events"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

// Room is one joined room connection. Collections and callbacks are only
// touched on the dispatcher; the pumps post every frame there.
type Room struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	cfg       Config
	dispatch  bus.Dispatcher
	state     *statesync.RoomState

	handlers map[string]*bus.Signal[json.RawMessage]
	leaveFns []func(session.LeaveInfo)
	errorFns []func(session.RoomErrorEvent)
	finished bool
	left     session.LeaveInfo

	send chan []byte
	quit chan struct{}
	done chan struct{}

	mu        sync.Mutex
	leaving   bool
	consented bool
}

func newRoom(conn *websocket.Conn, cfg Config, dispatch bus.Dispatcher, joined events.Envelope) *Room {
	r := &Room{
		id:        joined.RoomID,
		sessionID: joined.SessionID,
		conn:      conn,
		cfg:       cfg,
		dispatch:  dispatch,
		state:     statesync.NewRoomState(),
		handlers:  make(map[string]*bus.Signal[json.RawMessage]),
		send:      make(chan []byte, cfg.SendBufferSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	// Nothing observes the collections before Join returns, so seeding here
	// does not race with the dispatcher.
	if snap := joined.Snapshot; snap != nil {
		for _, p := range snap.Players {
			r.state.Players.Set(p.Key, p.Value)
		}
		for _, s := range snap.Stations {
			r.state.Stations.Set(s.Key, s.Value)
		}
	}
	return r
}

func (r *Room) start() {
	r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		return nil
	})
	go r.writePump()
	go r.readPump()
}

func (r *Room) ID() string        { return r.id }
func (r *Room) SessionID() string { return r.sessionID }

func (r *Room) Players() statesync.Collection[string, statesync.Player] {
	return r.state.Players
}

func (r *Room) Stations() statesync.Collection[string, statesync.Station] {
	return r.state.Stations
}

// Send queues a named message for the write pump.
func (r *Room) Send(name string, payload any) error {
	env, err := events.NewMessage(name, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaving {
		return ErrNotConnected
	}
	select {
	case <-r.done:
		return ErrNotConnected
	case r.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (r *Room) OnMessage(name string, fn func(json.RawMessage)) func() {
	sig, ok := r.handlers[name]
	if !ok {
		sig = &bus.Signal[json.RawMessage]{}
		r.handlers[name] = sig
	}
	return sig.Subscribe(fn)
}

// OnLeave registers fn to run once when the connection ends. Registering on a
// room that has already ended posts fn with the recorded leave.
func (r *Room) OnLeave(fn func(session.LeaveInfo)) {
	if r.finished {
		info := r.left
		r.dispatch.Post(func() { fn(info) })
		return
	}
	r.leaveFns = append(r.leaveFns, fn)
}

func (r *Room) OnError(fn func(session.RoomErrorEvent)) {
	r.errorFns = append(r.errorFns, fn)
}

// Leave closes the connection. A consented leave tells the server first and
// is reported with CodeConsented.
func (r *Room) Leave(consented bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaving {
		return nil
	}
	r.leaving = true
	r.consented = consented
	close(r.quit)
	return nil
}

func (r *Room) writePump() {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		r.conn.Close()
	}()

	for {
		select {
		case data := <-r.send:
			r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("room_id", r.id).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("room_id", r.id).Msg("failed to send ping")
				return
			}

		case <-r.quit:
			r.mu.Lock()
			consented := r.consented
			r.mu.Unlock()
			if consented {
				r.writeLeave()
				// wait for the server to echo the close, bounded by the write timeout
				r.conn.SetReadDeadline(time.Now().Add(r.cfg.WriteTimeout))
				select {
				case <-r.done:
				case <-time.After(r.cfg.WriteTimeout):
				}
			}
			return

		case <-r.done:
			return
		}
	}
}

func (r *Room) writeLeave() {
	deadline := time.Now().Add(r.cfg.WriteTimeout)
	r.conn.SetWriteDeadline(deadline)
	if data, err := json.Marshal(events.Envelope{Type: events.FrameLeave}); err == nil {
		if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Str("room_id", r.id).Msg("failed to send leave frame")
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client left")
	if err := r.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Debug().Err(err).Str("room_id", r.id).Msg("failed to send close frame")
	}
}

func (r *Room) readPump() {
	defer close(r.done)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			info := r.leaveInfo(err)
			r.dispatch.Post(func() { r.finish(info) })
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("room_id", r.id).Msg("dropping malformed frame")
			continue
		}
		r.dispatch.Post(func() { r.apply(env) })
		r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
	}
}

func (r *Room) leaveInfo(err error) session.LeaveInfo {
	r.mu.Lock()
	leaving, consented := r.leaving, r.consented
	r.mu.Unlock()

	if leaving && consented {
		return session.LeaveInfo{Code: session.CodeConsented, Reason: "client left"}
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return session.LeaveInfo{Code: ce.Code, Reason: ce.Text}
	}
	return session.LeaveInfo{Code: session.CodeAbnormal, Reason: err.Error()}
}

func (r *Room) finish(info session.LeaveInfo) {
	if r.finished {
		return
	}
	r.finished = true
	r.left = info

	log.Debug().
		Str("room_id", r.id).
		Int("code", info.Code).
		Str("reason", info.Reason).
		Msg("room connection ended")
	fns := r.leaveFns
	r.leaveFns = nil
	for _, fn := range fns {
		fn(info)
	}
}

func (r *Room) apply(env events.Envelope) {
	if r.finished {
		return
	}
	switch env.Type {
	case events.FramePatch:
		r.applyPatch(env)
	case events.FrameMessage:
		sig, ok := r.handlers[env.Name]
		if !ok || sig.Len() == 0 {
			log.Debug().Str("message", env.Name).Msg("no handler for message")
			return
		}
		sig.Emit(env.Payload)
	case events.FrameError:
		e := session.RoomErrorEvent{Code: env.Code, Message: env.Message}
		for _, fn := range r.errorFns {
			fn(e)
		}
	default:
		log.Warn().Str("type", string(env.Type)).Msg("unexpected frame type")
	}
}

func (r *Room) applyPatch(env events.Envelope) {
	switch env.Collection {
	case statesync.CollectionPlayers:
		applyTo(r.state.Players, env)
	case statesync.CollectionStations:
		applyTo(r.state.Stations, env)
	default:
		log.Warn().Str("collection", env.Collection).Msg("patch for unknown collection")
	}
}

func applyTo[V any](c *statesync.MapCollection[string, V], env events.Envelope) {
	switch env.Op {
	case events.OpAdd, events.OpChange:
		var v V
		if err := json.Unmarshal(env.Value, &v); err != nil {
			log.Warn().Err(err).Str("collection", env.Collection).Str("key", env.Key).Msg("dropping malformed patch")
			return
		}
		c.Set(env.Key, v)
	case events.OpRemove:
		if !c.Delete(env.Key) {
			log.Debug().Str("collection", env.Collection).Str("key", env.Key).Msg("remove for unknown key")
		}
	default:
		log.Warn().Str("op", string(env.Op)).Msg("unknown patch op")
	}
}
