package main

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/events"
	"github.com/mcdev12/plaza/go/internal/realtime/reconcile"
	"github.com/mcdev12/plaza/go/internal/realtime/router"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
)

// logEvents writes every produced event to the log.
func logEvents(c *client) {
	c.conn.OnReconnecting(func(e session.ReconnectingEvent) {
		log.Info().Int("attempt", e.Attempt).Dur("delay", e.Delay).Str("reason", e.Reason).Msg("reconnect scheduled")
	})
	c.conn.OnConnectionError(func(e session.ConnectionErrorEvent) {
		log.Warn().Str("error", e.Message).Msg("connection error")
	})
	c.conn.OnRoomError(func(e session.RoomErrorEvent) {
		log.Warn().Int("code", e.Code).Str("message", e.Message).Msg("server rejected request")
	})
	c.conn.OnReconnectExhausted(func(e session.ExhaustedEvent) {
		log.Error().Int("attempts", e.Attempts).Msg("giving up on reconnecting; type /connect to retry")
	})

	p := &c.players.Events
	p.Spawned.Subscribe(func(e reconcile.PlayerSpawned) {
		log.Info().Str("session_id", e.SessionID).Str("username", e.InitialState.Username).Bool("local", e.IsLocal).Msg("player joined")
	})
	p.Removed.Subscribe(func(e reconcile.PlayerRemoved) {
		log.Info().Str("session_id", e.SessionID).Msg("player left")
	})
	p.Updated.Subscribe(func(e reconcile.PlayerUpdated) {
		log.Debug().
			Str("session_id", e.SessionID).
			Float64("x", e.State.X).
			Float64("y", e.State.Y).
			Float64("z", e.State.Z).
			Str("animation", e.State.Animation).
			Msg("player updated")
	})

	s := &c.stations.Events
	s.Added.Subscribe(func(e reconcile.StationEvent) {
		log.Debug().Str("station_id", e.StationID).Str("claimed_by", e.ClaimedByUsername).Msg("station added")
	})
	s.Updated.Subscribe(func(e reconcile.StationEvent) {
		log.Info().
			Str("station_id", e.StationID).
			Str("claimed_by", e.ClaimedByUsername).
			Str("text", e.Text).
			Int64("donation_total", e.DonationTotal).
			Bool("mine", e.OwnedByLocal).
			Msg("station updated")
	})

	r := &c.router.Events
	r.ChatLog.Subscribe(func(e router.ChatEntry) {
		log.Info().Str("kind", string(e.Kind)).Str("from", e.Username).Msg(e.Text)
	})
	r.ClaimSucceeded.Subscribe(func(p events.ClaimSuccessPayload) {
		log.Info().Str("station_id", p.StationID).Msg("station claimed")
	})
	r.ClaimFailed.Subscribe(func(p events.ClaimErrorPayload) {
		log.Warn().Str("station_id", p.StationID).Str("reason", p.Reason).Msg("claim failed")
	})
	r.StationReleased.Subscribe(func(p events.StationReleasedPayload) {
		log.Info().Str("station_id", p.StationID).Msg("station released")
	})
	r.Emote.Subscribe(func(p events.EmotePayload) {
		log.Info().Str("session_id", p.SessionID).Str("emote", p.Emote).Msg("emote")
	})
	r.Notice.Subscribe(func(p events.NoticePayload) {
		log.Info().Str("level", p.Level).Msg(p.Text)
	})
}
