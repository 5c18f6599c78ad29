package natsbridge

import (
	"github.com/mcdev12/plaza/go/internal/realtime/events"
	"github.com/mcdev12/plaza/go/internal/realtime/reconcile"
	"github.com/mcdev12/plaza/go/internal/realtime/router"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

type connectedPayload struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
}

type playerPayload struct {
	SessionID string           `json:"session_id"`
	IsLocal   bool             `json:"is_local"`
	State     statesync.Player `json:"state"`
}

type stationPayload struct {
	StationID         string `json:"station_id"`
	ClaimedBy         string `json:"claimed_by,omitempty"`
	ClaimedByUsername string `json:"claimed_by_username,omitempty"`
	Text              string `json:"text,omitempty"`
	DonationTotal     int64  `json:"donation_total"`
	OwnedByLocal      bool   `json:"owned_by_local"`
}

type reconnectingPayload struct {
	Attempt int    `json:"attempt"`
	DelayMS int64  `json:"delay_ms"`
	Reason  string `json:"reason"`
}

func stationOf(e reconcile.StationEvent) stationPayload {
	return stationPayload{
		StationID:         e.StationID,
		ClaimedBy:         e.ClaimedBy,
		ClaimedByUsername: e.ClaimedByUsername,
		Text:              e.Text,
		DonationTotal:     e.DonationTotal,
		OwnedByLocal:      e.OwnedByLocal,
	}
}

// AttachConnector publishes the connection lifecycle.
func (b *Bridge) AttachConnector(c *session.Connector) {
	b.unsubs = append(b.unsubs,
		c.OnConnecting(func(e session.ConnectingEvent) { b.Publish("connecting", e) }),
		c.OnReconnecting(func(e session.ReconnectingEvent) {
			b.Publish("reconnecting", reconnectingPayload{
				Attempt: e.Attempt,
				DelayMS: e.Delay.Milliseconds(),
				Reason:  e.Reason,
			})
		}),
		c.OnConnectionError(func(e session.ConnectionErrorEvent) { b.Publish("connection_error", e) }),
		c.OnConnected(func(room session.Room) {
			b.Publish("connected", connectedPayload{RoomID: room.ID(), SessionID: room.SessionID()})
		}),
		c.OnDisconnected(func(e session.DisconnectedEvent) { b.Publish("disconnected", e) }),
		c.OnRoomError(func(e session.RoomErrorEvent) { b.Publish("room_error", e) }),
		c.OnReconnectExhausted(func(e session.ExhaustedEvent) { b.Publish("reconnect_exhausted", e) }),
	)
}

// AttachPlayers publishes player reconciliation events.
func (b *Bridge) AttachPlayers(p *reconcile.Players) {
	b.unsubs = append(b.unsubs,
		p.Events.Spawned.Subscribe(func(e reconcile.PlayerSpawned) {
			b.Publish("player:spawned", playerPayload{SessionID: e.SessionID, IsLocal: e.IsLocal, State: e.InitialState})
		}),
		p.Events.Updated.Subscribe(func(e reconcile.PlayerUpdated) {
			b.Publish("player:updated", playerPayload{SessionID: e.SessionID, IsLocal: e.Entity.IsLocal, State: e.State})
		}),
		p.Events.Removed.Subscribe(func(e reconcile.PlayerRemoved) {
			b.Publish("player:removed", map[string]string{"session_id": e.SessionID})
		}),
		p.Events.DataUpdate.Subscribe(func(patch reconcile.PlayerPatch) { b.Publish("player:data:update", patch) }),
	)
}

// AttachStations publishes station reconciliation events.
func (b *Bridge) AttachStations(s *reconcile.Stations) {
	b.unsubs = append(b.unsubs,
		s.Events.Added.Subscribe(func(e reconcile.StationEvent) { b.Publish("station:added", stationOf(e)) }),
		s.Events.Updated.Subscribe(func(e reconcile.StationEvent) { b.Publish("station:updated", stationOf(e)) }),
		s.Events.Removed.Subscribe(func(e reconcile.StationRemoved) {
			b.Publish("station:removed", map[string]string{"station_id": e.StationID})
		}),
	)
}

// AttachRouter publishes domain events produced from inbound messages.
func (b *Bridge) AttachRouter(r *router.Router) {
	ev := &r.Events
	b.unsubs = append(b.unsubs,
		ev.ChatLog.Subscribe(func(e router.ChatEntry) {
			b.Publish("chat", map[string]any{
				"kind":       e.Kind,
				"session_id": e.SessionID,
				"username":   e.Username,
				"text":       e.Text,
				"sent_at":    e.SentAt.UnixMilli(),
			})
		}),
		ev.ClaimSucceeded.Subscribe(func(p events.ClaimSuccessPayload) { b.Publish("claim:success", p) }),
		ev.ClaimFailed.Subscribe(func(p events.ClaimErrorPayload) { b.Publish("claim:error", p) }),
		ev.StationReleased.Subscribe(func(p events.StationReleasedPayload) { b.Publish("station:released", p) }),
		ev.Donation.Subscribe(func(p events.DonationPayload) { b.Publish("donation", p) }),
		ev.Emote.Subscribe(func(p events.EmotePayload) { b.Publish("emote", p) }),
		ev.Notice.Subscribe(func(p events.NoticePayload) { b.Publish("notice", p) }),
	)
}
