package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
)

// Lifecycle is the part of the connector other components bind to.
type Lifecycle interface {
	OnConnected(fn func(Room)) func()
	OnDisconnected(fn func(DisconnectedEvent)) func()
}

// DisconnectOptions control Disconnect.
type DisconnectOptions struct {
	// AllowReconnect keeps retry state so the following leave is treated as
	// involuntary and reconnection resumes.
	AllowReconnect bool
}

// Option configures a Connector.
type Option func(*Connector)

// WithClock replaces the real clock, typically with a clockwork fake in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Connector) { c.clock = clock }
}

// WithJitter replaces the jitter source. fn must return values in [-1, 1].
func WithJitter(fn func() float64) Option {
	return func(c *Connector) { c.jitter = fn }
}

// Connector owns the room connection and the reconnect schedule.
//
// All methods must be called from the dispatcher's goroutine. Completion of
// connect attempts, timer expiry and room callbacks are posted back to the same
// dispatcher, so the connector never runs concurrently with itself.
type Connector struct {
	cfg       Config
	transport Transport
	dispatch  bus.Dispatcher
	clock     clockwork.Clock
	jitter    func() float64
	sess      *Session

	ctx    context.Context
	cancel context.CancelFunc

	connecting      bus.Signal[ConnectingEvent]
	reconnecting    bus.Signal[ReconnectingEvent]
	connectionError bus.Signal[ConnectionErrorEvent]
	connected       bus.Signal[Room]
	disconnected    bus.Signal[DisconnectedEvent]
	roomError       bus.Signal[RoomErrorEvent]
	exhausted       bus.Signal[ExhaustedEvent]
}

// NewConnector creates a connector. transport may be nil, in which case every
// connect attempt fails with ErrTransportUnavailable.
func NewConnector(cfg Config, transport Transport, dispatch bus.Dispatcher, opts ...Option) *Connector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connector{
		cfg:       cfg,
		transport: transport,
		dispatch:  dispatch,
		clock:     clockwork.NewRealClock(),
		jitter:    func() float64 { return rand.Float64()*2 - 1 },
		sess:      newSession(cfg.Reconnect.Enabled),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the shared session record.
func (c *Connector) Session() *Session { return c.sess }

// State returns the current lifecycle state.
func (c *Connector) State() ConnectionState { return c.sess.State() }

func (c *Connector) OnConnecting(fn func(ConnectingEvent)) func() {
	return c.connecting.Subscribe(fn)
}

func (c *Connector) OnReconnecting(fn func(ReconnectingEvent)) func() {
	return c.reconnecting.Subscribe(fn)
}

func (c *Connector) OnConnectionError(fn func(ConnectionErrorEvent)) func() {
	return c.connectionError.Subscribe(fn)
}

func (c *Connector) OnConnected(fn func(Room)) func() {
	return c.connected.Subscribe(fn)
}

func (c *Connector) OnDisconnected(fn func(DisconnectedEvent)) func() {
	return c.disconnected.Subscribe(fn)
}

func (c *Connector) OnRoomError(fn func(RoomErrorEvent)) func() {
	return c.roomError.Subscribe(fn)
}

func (c *Connector) OnReconnectExhausted(fn func(ExhaustedEvent)) func() {
	return c.exhausted.Subscribe(fn)
}

// Connect starts a connect attempt. It is a logged no-op while an attempt is in
// flight or a room is held.
func (c *Connector) Connect() {
	c.connect(true)
}

func (c *Connector) connect(manual bool) {
	s := c.sess
	if s.isConnecting {
		if manual && s.manualDisconnect {
			// the in-flight room is adopted instead of discarded
			s.update(func(s *Session) {
				s.manualDisconnect = false
				s.shouldReconnect = c.cfg.Reconnect.Enabled
			})
			log.Info().Msg("connect requested after disconnect, keeping the attempt in progress")
			return
		}
		log.Debug().Msg("connect ignored: attempt already in progress")
		return
	}
	if s.room != nil {
		log.Debug().Str("session_id", s.sessionID).Msg("connect ignored: already connected")
		return
	}

	c.cancelReconnect()
	s.update(func(s *Session) {
		s.manualDisconnect = false
		s.shouldReconnect = c.cfg.Reconnect.Enabled
		if manual {
			s.transportUnavailable = false
		}
	})

	if c.transport == nil {
		c.failConnect(ErrTransportUnavailable)
		return
	}
	if c.cfg.Endpoint == "" {
		c.failConnect(ErrNoEndpoint)
		return
	}

	attempt := s.retryAttempt + 1
	s.update(func(s *Session) { s.isConnecting = true })

	log.Info().
		Str("endpoint", c.cfg.Endpoint).
		Str("room", c.cfg.Join.RoomName).
		Int("attempt", attempt).
		Msg("connecting to room")
	c.connecting.Emit(ConnectingEvent{Attempt: attempt})

	transport := c.transport
	endpoint := c.cfg.Endpoint
	opts := c.cfg.Join
	go func() {
		room, err := transport.Join(c.ctx, endpoint, opts)
		c.dispatch.Post(func() { c.finishConnect(transport, room, err) })
	}()
}

func (c *Connector) finishConnect(transport Transport, room Room, err error) {
	s := c.sess
	s.update(func(s *Session) { s.isConnecting = false })

	if err != nil {
		c.failConnect(err)
		return
	}

	if s.manualDisconnect {
		// Disconnect was requested while the attempt was in flight.
		log.Info().Str("room_id", room.ID()).Msg("discarding room joined after manual disconnect")
		s.update(func(s *Session) { s.manualDisconnect = false })
		if err := room.Leave(true); err != nil {
			log.Warn().Err(err).Msg("failed to leave discarded room")
		}
		return
	}

	c.cancelReconnect()
	s.update(func(s *Session) {
		s.client = transport
		s.room = room
		s.sessionID = room.SessionID()
		s.retryAttempt = 0
	})

	room.OnLeave(func(info LeaveInfo) { c.handleLeave(room, info) })
	room.OnError(func(e RoomErrorEvent) {
		log.Warn().Int("code", e.Code).Str("message", e.Message).Msg("room error")
		c.roomError.Emit(e)
	})

	log.Info().
		Str("room_id", room.ID()).
		Str("session_id", room.SessionID()).
		Msg("connected to room")
	c.connected.Emit(room)
}

func (c *Connector) failConnect(err error) {
	s := c.sess
	s.update(func(s *Session) {
		s.room = nil
		s.retryAttempt++
	})

	log.Warn().Err(err).Int("failed_attempts", s.retryAttempt).Msg("connect attempt failed")
	c.connectionError.Emit(ConnectionErrorEvent{Message: err.Error(), Err: err})

	if errors.Is(err, ErrTransportUnavailable) {
		s.update(func(s *Session) { s.transportUnavailable = true })
		log.Error().Msg("transport unavailable; reconnection disabled until the next manual connect")
		return
	}
	c.scheduleReconnect(fmt.Sprintf("connect failed: %v", err))
}

// Disconnect leaves the current room. Without AllowReconnect the leave is
// treated as manual and no reconnection follows it.
func (c *Connector) Disconnect(opts DisconnectOptions) {
	s := c.sess
	allow := opts.AllowReconnect
	if s.preserveNextDisconnect {
		allow = true
		s.update(func(s *Session) { s.preserveNextDisconnect = false })
	}

	if !allow {
		c.cancelReconnect()
		s.update(func(s *Session) {
			s.manualDisconnect = true
			s.shouldReconnect = false
			s.retryAttempt = 0
		})
	}

	room := s.room
	if room == nil {
		log.Debug().Bool("allow_reconnect", allow).Msg("disconnect: no active room")
		return
	}

	log.Info().
		Str("room_id", room.ID()).
		Bool("allow_reconnect", allow).
		Msg("leaving room")
	if err := room.Leave(true); err != nil {
		log.Warn().Err(err).Msg("room leave failed")
	}
}

// PreserveNextDisconnect makes the next Disconnect behave as if AllowReconnect
// were set. The auth logout flow uses it to keep connectivity across a
// credential change.
func (c *Connector) PreserveNextDisconnect() {
	c.sess.update(func(s *Session) { s.preserveNextDisconnect = true })
}

func (c *Connector) handleLeave(room Room, info LeaveInfo) {
	s := c.sess
	if s.room != room {
		log.Debug().Str("room_id", room.ID()).Msg("ignoring leave from stale room")
		return
	}

	manual := s.manualDisconnect
	s.update(func(s *Session) {
		s.room = nil
		s.client = nil
		s.sessionID = ""
		s.isConnecting = false
	})

	log.Info().
		Int("code", info.Code).
		Str("reason", info.Reason).
		Bool("manual", manual).
		Msg("disconnected from room")
	c.disconnected.Emit(DisconnectedEvent{Code: info.Code, Reason: info.Reason, Manual: manual})

	s.update(func(s *Session) { s.manualDisconnect = false })
	if manual {
		return
	}

	s.update(func(s *Session) { s.shouldReconnect = c.cfg.Reconnect.Enabled })
	c.scheduleReconnect(fmt.Sprintf("connection lost (code %d)", info.Code))
}

// NetworkOnline replaces any pending backoff with an immediate attempt.
func (c *Connector) NetworkOnline() {
	s := c.sess
	if s.room != nil || s.isConnecting {
		return
	}
	if ok, why := c.canReconnect(); !ok {
		log.Debug().Str("reason", why).Msg("network online: reconnect not permitted")
		return
	}
	c.armReconnect(s.retryAttempt+1, 0, "network online")
}

// ConfigReady supplies the server endpoint once configuration has resolved.
func (c *Connector) ConfigReady(endpoint string) {
	c.cfg.Endpoint = endpoint
	log.Info().Str("endpoint", endpoint).Msg("server endpoint configured")
	if endpoint == "" || !c.cfg.AutoConnect {
		return
	}
	if c.sess.room == nil && !c.sess.isConnecting {
		c.Connect()
	}
}

// SetReconnectEnabled turns the reconnect feature on or off at runtime.
// Disabling it cancels any pending attempt.
func (c *Connector) SetReconnectEnabled(enabled bool) {
	c.cfg.Reconnect.Enabled = enabled
	c.sess.update(func(s *Session) { s.shouldReconnect = enabled })
	if !enabled {
		c.cancelReconnect()
	}
}

// Close leaves any room manually and stops background work.
func (c *Connector) Close() {
	c.Disconnect(DisconnectOptions{})
	c.cancelReconnect()
	c.cancel()
}

func (c *Connector) canReconnect() (bool, string) {
	s := c.sess
	switch {
	case !c.cfg.Reconnect.Enabled:
		return false, "reconnect disabled"
	case !s.shouldReconnect || s.manualDisconnect:
		return false, "manual disconnect"
	case c.cfg.Reconnect.MaxAttempts > 0 && s.retryAttempt >= c.cfg.Reconnect.MaxAttempts:
		return false, "attempts exhausted"
	case c.cfg.Endpoint == "":
		return false, "no endpoint"
	case c.transport == nil || s.transportUnavailable:
		return false, "transport unavailable"
	}
	return true, ""
}

func (c *Connector) scheduleReconnect(reason string) {
	ok, why := c.canReconnect()
	if !ok {
		log.Info().Str("reason", why).Msg("reconnect not scheduled")
		if why == "attempts exhausted" {
			c.exhausted.Emit(ExhaustedEvent{Attempts: c.sess.retryAttempt, Reason: reason})
		}
		return
	}

	attempt := c.sess.retryAttempt + 1
	delay := NextBackoffDelay(c.cfg.Reconnect, attempt, c.jitter)
	c.armReconnect(attempt, delay, reason)
}

// armReconnect cancels any pending timer and starts a new one.
func (c *Connector) armReconnect(attempt int, delay time.Duration, reason string) {
	c.cancelReconnect()

	timer := c.clock.NewTimer(delay)
	stop := make(chan struct{})
	var gen uint64
	c.sess.update(func(s *Session) {
		s.timerGen++
		gen = s.timerGen
		s.reconnectTimer = timer
		s.timerStop = stop
	})

	go func(t clockwork.Timer) {
		select {
		case <-t.Chan():
			c.dispatch.Post(func() { c.fireReconnect(gen) })
		case <-stop:
		}
	}(timer)

	log.Info().
		Int("attempt", attempt).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("reconnect scheduled")
	c.reconnecting.Emit(ReconnectingEvent{Attempt: attempt, Delay: delay, Reason: reason})
}

func (c *Connector) fireReconnect(gen uint64) {
	s := c.sess
	if s.reconnectTimer == nil || s.timerGen != gen {
		log.Debug().Msg("stale reconnect timer fired")
		return
	}
	s.update(func(s *Session) {
		s.reconnectTimer = nil
		s.timerStop = nil
	})
	c.connect(false)
}

func (c *Connector) cancelReconnect() {
	s := c.sess
	if s.reconnectTimer == nil {
		return
	}
	stopAndDrainTimer(s.reconnectTimer)
	close(s.timerStop)
	s.update(func(s *Session) {
		s.reconnectTimer = nil
		s.timerStop = nil
	})
	log.Debug().Msg("cancelled pending reconnect")
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
