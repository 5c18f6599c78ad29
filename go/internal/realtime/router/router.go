// Package router moves named messages between the joined room and the rest of
// the client. Inbound pushes become typed domain events; outbound intents become
// named room messages, or are dropped while no room is held.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/events"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
)

var (
	// ErrNotConnected is returned by Send when no room is held.
	ErrNotConnected = errors.New("router: not connected")
	// ErrInvalidPayload classifies outbound intents rejected by validation.
	ErrInvalidPayload = events.ErrInvalidPayload
)

// Intents are the outbound requests other components raise. Emitting on one
// forwards a named message if a room is held.
type Intents struct {
	ClaimStation   bus.Signal[events.ClaimStationRequest]
	ReleaseStation bus.Signal[events.ReleaseStationRequest]
	Chat           bus.Signal[events.ChatRequest]
	Move           bus.Signal[events.MoveRequest]
	UpdateStation  bus.Signal[events.UpdateStationRequest]
	Emote          bus.Signal[events.EmoteRequest]
}

// ChatKind distinguishes player chat from system entries in the chat log.
type ChatKind string

const (
	ChatPlayer   ChatKind = "chat"
	ChatDonation ChatKind = "donation"
)

// ChatEntry is one line for the chat log.
type ChatEntry struct {
	Kind      ChatKind
	SessionID string
	Username  string
	Text      string
	SentAt    time.Time
}

// Events are the domain events produced from inbound messages.
type Events struct {
	ChatLog         bus.Signal[ChatEntry]
	ClaimSucceeded  bus.Signal[events.ClaimSuccessPayload]
	ClaimFailed     bus.Signal[events.ClaimErrorPayload]
	StationReleased bus.Signal[events.StationReleasedPayload]
	Donation        bus.Signal[events.DonationPayload]
	Emote           bus.Signal[events.EmotePayload]
	Notice          bus.Signal[events.NoticePayload]
}

type route struct {
	name   string
	handle func(payload json.RawMessage) error
}

// Router binds inbound handlers for each connection and forwards outbound
// intents for its whole lifetime. It must be used from the dispatcher goroutine.
type Router struct {
	Events Events

	sess    *session.Session
	routes  []route
	subs    []func()
	inbound []func()
	room    session.Room
	dropped int
}

// New creates a router reading connection state from sess and following the
// connection lifecycle of lc. intents may be nil.
func New(sess *session.Session, lc session.Lifecycle, intents *Intents) *Router {
	r := &Router{sess: sess}
	r.routes = r.routeTable()

	r.subs = append(r.subs,
		lc.OnConnected(r.bind),
		lc.OnDisconnected(func(session.DisconnectedEvent) { r.unbind() }),
	)
	if intents != nil {
		r.subs = append(r.subs,
			intents.ClaimStation.Subscribe(forward(r, events.ClaimStation, events.ClaimStationRequest.Normalize)),
			intents.ReleaseStation.Subscribe(forward(r, events.ReleaseStation, events.ReleaseStationRequest.Normalize)),
			intents.Chat.Subscribe(forward(r, events.Chat, events.ChatRequest.Normalize)),
			intents.Move.Subscribe(forward(r, events.Move, events.MoveRequest.Normalize)),
			intents.UpdateStation.Subscribe(forward(r, events.UpdateStation, events.UpdateStationRequest.Normalize)),
			intents.Emote.Subscribe(forward(r, events.Emote, events.EmoteRequest.Normalize)),
		)
	}
	return r
}

// Close unbinds everything the router subscribed to.
func (r *Router) Close() {
	r.unbind()
	for _, unsub := range r.subs {
		unsub()
	}
	r.subs = nil
}

// Dropped returns how many outbound messages were discarded because no room
// was held.
func (r *Router) Dropped() int { return r.dropped }

// Bound reports whether inbound handlers are attached to a room.
func (r *Router) Bound() bool { return r.room != nil }

// Send forwards one named message on the held room.
func (r *Router) Send(name string, payload any) error {
	room := r.sess.Room()
	if room == nil {
		r.dropped++
		log.Warn().Str("message", name).Msg("not connected, dropping outbound message")
		return ErrNotConnected
	}
	if err := room.Send(name, payload); err != nil {
		log.Error().Err(err).Str("message", name).Msg("failed to send message")
		return fmt.Errorf("send %s: %w", name, err)
	}
	log.Debug().Str("message", name).Msg("message sent")
	return nil
}

func forward[T any](r *Router, name string, normalize func(T) (T, error)) func(T) {
	return func(req T) {
		req, err := normalize(req)
		if err != nil {
			log.Warn().Err(err).Str("message", name).Msg("rejecting outbound message")
			return
		}
		_ = r.Send(name, req)
	}
}

func (r *Router) bind(room session.Room) {
	r.unbind()
	r.room = room
	for _, rt := range r.routes {
		r.inbound = append(r.inbound, room.OnMessage(rt.name, func(payload json.RawMessage) {
			r.dispatch(rt, payload)
		}))
	}
	log.Debug().
		Str("room_id", room.ID()).
		Int("routes", len(r.routes)).
		Msg("inbound routes bound")
}

func (r *Router) unbind() {
	for _, unsub := range r.inbound {
		unsub()
	}
	r.inbound = nil
	r.room = nil
}

func (r *Router) dispatch(rt route, payload json.RawMessage) {
	bus.Guard("route "+rt.name, func() {
		if err := rt.handle(payload); err != nil {
			log.Warn().
				Err(err).
				Str("message", rt.name).
				Str("payload", string(payload)).
				Msg("dropping inbound message")
		}
	})
}

func decode[T any](emit func(T)) func(json.RawMessage) error {
	return func(payload json.RawMessage) error {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		emit(v)
		return nil
	}
}

func (r *Router) routeTable() []route {
	ev := &r.Events
	return []route{
		{events.ChatMessage, decode(func(m events.ChatMessagePayload) {
			ev.ChatLog.Emit(ChatEntry{
				Kind:      ChatPlayer,
				SessionID: m.SessionID,
				Username:  m.Username,
				Text:      m.Text,
				SentAt:    time.UnixMilli(m.SentAt),
			})
		})},
		{events.ClaimSuccess, decode(ev.ClaimSucceeded.Emit)},
		{events.ClaimError, decode(ev.ClaimFailed.Emit)},
		{events.StationReleased, decode(ev.StationReleased.Emit)},
		{events.DonationConfirmed, decode(func(d events.DonationPayload) {
			ev.Donation.Emit(d)
			ev.ChatLog.Emit(ChatEntry{
				Kind:     ChatDonation,
				Username: d.DonorUsername,
				Text:     donationText(d),
				SentAt:   time.Now(),
			})
		})},
		{events.Emote, decode(ev.Emote.Emit)},
		{events.ServerNotice, decode(ev.Notice.Emit)},
	}
}

// donationText renders a donation for the chat log. Amounts are in cents.
func donationText(d events.DonationPayload) string {
	text := fmt.Sprintf("donated $%d.%02d to %s", d.Amount/100, d.Amount%100, d.Recipient)
	if d.Message != "" {
		text += ": " + d.Message
	}
	return text
}
