package devserver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/events"
	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

// Close and error codes sent to clients.
const (
	CodeBadRequest = 4000
	CodeForbidden  = 4003
	CodeNotFound   = 4004
)

// room is the authoritative state of one plaza room. Every method requires mu.
type room struct {
	name string
	now  func() time.Time

	mu       sync.Mutex
	state    *statesync.RoomState
	conns    map[string]*Connection
	handlers map[string]func(c *Connection, payload json.RawMessage) error
}

func newRoom(name string, seeds []StationSeed, now func() time.Time) *room {
	r := &room{
		name:  name,
		now:   now,
		state: statesync.NewRoomState(),
		conns: make(map[string]*Connection),
	}
	for _, s := range seeds {
		r.state.Stations.Set(s.ID, statesync.Station{Text: s.Text})
	}
	r.handlers = map[string]func(*Connection, json.RawMessage) error{
		events.Move:           r.handleMove,
		events.ClaimStation:   r.handleClaim,
		events.ReleaseStation: r.handleRelease,
		events.UpdateStation:  r.handleUpdateStation,
		events.Chat:           r.handleChat,
		events.Emote:          r.handleEmote,
		events.Donate:         r.handleDonate,
	}
	return r
}

func (r *room) snapshot() *events.Snapshot {
	snap := &events.Snapshot{
		Players:  []events.PlayerEntry{},
		Stations: []events.StationEntry{},
	}
	r.state.Players.ForEach(func(k string, v statesync.Player) {
		snap.Players = append(snap.Players, events.PlayerEntry{Key: k, Value: v})
	})
	r.state.Stations.ForEach(func(k string, v statesync.Station) {
		snap.Stations = append(snap.Stations, events.StationEntry{Key: k, Value: v})
	})
	return snap
}

func (r *room) join(c *Connection) {
	r.conns[c.SessionID] = c
	player := statesync.Player{Username: c.Username, AvatarURL: c.AvatarURL}
	r.state.Players.Set(c.SessionID, player)

	r.sendTo(c, events.Envelope{
		Type:      events.FrameJoined,
		SessionID: c.SessionID,
		RoomID:    r.name,
		Snapshot:  r.snapshot(),
	})
	r.broadcastPatch(statesync.CollectionPlayers, events.OpAdd, c.SessionID, player, c)
}

// leave removes the connection's player and releases its stations.
func (r *room) leave(c *Connection) bool {
	if _, ok := r.conns[c.SessionID]; !ok {
		return false
	}
	delete(r.conns, c.SessionID)

	for _, id := range r.state.Stations.Keys() {
		st, _ := r.state.Stations.Get(id)
		if st.ClaimedBy == c.SessionID {
			r.releaseStation(id, st)
		}
	}
	r.state.Players.Delete(c.SessionID)
	r.broadcastPatch(statesync.CollectionPlayers, events.OpRemove, c.SessionID, nil, nil)
	return true
}

func (r *room) handle(c *Connection, env events.Envelope) {
	switch env.Type {
	case events.FrameMessage:
		h, ok := r.handlers[env.Name]
		if !ok {
			r.sendError(c, CodeBadRequest, fmt.Sprintf("unknown message %q", env.Name))
			return
		}
		if err := h(c, env.Payload); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", c.SessionID).
				Str("message", env.Name).
				Msg("client message rejected")
			r.sendError(c, CodeBadRequest, err.Error())
		}
	case events.FrameLeave:
		c.markConsented()
	default:
		r.sendError(c, CodeBadRequest, fmt.Sprintf("unexpected frame %q", env.Type))
	}
}

func decode[T interface{ Normalize() (T, error) }](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v.Normalize()
}

func (r *room) handleMove(c *Connection, payload json.RawMessage) error {
	req, err := decode[events.MoveRequest](payload)
	if err != nil {
		return err
	}
	p, ok := r.state.Players.Get(c.SessionID)
	if !ok {
		return fmt.Errorf("no player for session %s", c.SessionID)
	}
	p.X, p.Y, p.Z, p.RotY = req.X, req.Y, req.Z, req.RotY
	if req.Animation != "" {
		p.Animation = req.Animation
	}
	r.setPlayer(c.SessionID, p)
	return nil
}

func (r *room) handleClaim(c *Connection, payload json.RawMessage) error {
	req, err := decode[events.ClaimStationRequest](payload)
	if err != nil {
		return err
	}
	st, ok := r.state.Stations.Get(req.StationID)
	if !ok {
		r.sendMessage(c, events.ClaimError, events.ClaimErrorPayload{StationID: req.StationID, Reason: "unknown station"})
		return nil
	}
	if st.Claimed() && st.ClaimedBy != c.SessionID {
		r.sendMessage(c, events.ClaimError, events.ClaimErrorPayload{StationID: req.StationID, Reason: "already claimed"})
		return nil
	}

	p, _ := r.state.Players.Get(c.SessionID)
	if p.StationID != "" && p.StationID != req.StationID {
		if prev, ok := r.state.Stations.Get(p.StationID); ok {
			r.releaseStation(p.StationID, prev)
			p, _ = r.state.Players.Get(c.SessionID)
		}
	}

	if st.ClaimedBy != c.SessionID {
		st.ClaimedBy = c.SessionID
		st.ClaimedByUsername = c.Username
		r.setStation(req.StationID, st)
		p.StationID = req.StationID
		r.setPlayer(c.SessionID, p)
	}
	r.sendMessage(c, events.ClaimSuccess, events.ClaimSuccessPayload{StationID: req.StationID})

	log.Info().
		Str("room", r.name).
		Str("session_id", c.SessionID).
		Str("station_id", req.StationID).
		Msg("station claimed")
	return nil
}

func (r *room) handleRelease(c *Connection, payload json.RawMessage) error {
	req, err := decode[events.ReleaseStationRequest](payload)
	if err != nil {
		return err
	}
	st, ok := r.state.Stations.Get(req.StationID)
	if !ok {
		r.sendError(c, CodeNotFound, "unknown station")
		return nil
	}
	if st.ClaimedBy != c.SessionID {
		r.sendError(c, CodeForbidden, "not the station owner")
		return nil
	}
	r.releaseStation(req.StationID, st)
	return nil
}

// releaseStation clears a claim, updates the owner's player entry and
// announces the release.
func (r *room) releaseStation(id string, st statesync.Station) {
	owner := st.ClaimedBy
	st.ClaimedBy = ""
	st.ClaimedByUsername = ""
	st.Text = ""
	r.setStation(id, st)

	if p, ok := r.state.Players.Get(owner); ok && p.StationID == id {
		p.StationID = ""
		r.setPlayer(owner, p)
	}
	r.broadcastMessage(events.StationReleased, events.StationReleasedPayload{StationID: id, SessionID: owner})
}

func (r *room) handleUpdateStation(c *Connection, payload json.RawMessage) error {
	req, err := decode[events.UpdateStationRequest](payload)
	if err != nil {
		return err
	}
	st, ok := r.state.Stations.Get(req.StationID)
	if !ok {
		r.sendError(c, CodeNotFound, "unknown station")
		return nil
	}
	if st.ClaimedBy != c.SessionID {
		r.sendError(c, CodeForbidden, "not the station owner")
		return nil
	}
	if st.Text != req.Text {
		st.Text = req.Text
		r.setStation(req.StationID, st)
	}
	return nil
}

func (r *room) handleChat(c *Connection, payload json.RawMessage) error {
	req, err := decode[events.ChatRequest](payload)
	if err != nil {
		return err
	}
	r.broadcastMessage(events.ChatMessage, events.ChatMessagePayload{
		SessionID: c.SessionID,
		Username:  c.Username,
		Text:      req.Text,
		SentAt:    r.now().UnixMilli(),
	})
	return nil
}

func (r *room) handleEmote(c *Connection, payload json.RawMessage) error {
	req, err := decode[events.EmoteRequest](payload)
	if err != nil {
		return err
	}
	r.broadcastMessage(events.Emote, events.EmotePayload{SessionID: c.SessionID, Emote: req.Emote})
	return nil
}

func (r *room) handleDonate(c *Connection, payload json.RawMessage) error {
	req, err := decode[events.DonateRequest](payload)
	if err != nil {
		return err
	}
	st, ok := r.state.Stations.Get(req.StationID)
	if !ok || !st.Claimed() {
		r.sendError(c, CodeNotFound, "station is not claimed")
		return nil
	}
	st.DonationTotal += req.Amount
	r.setStation(req.StationID, st)
	r.broadcastMessage(events.DonationConfirmed, events.DonationPayload{
		StationID:     req.StationID,
		Amount:        req.Amount,
		DonorUsername: c.Username,
		Recipient:     st.ClaimedByUsername,
		Message:       req.Message,
	})
	return nil
}

func (r *room) setPlayer(key string, p statesync.Player) {
	r.state.Players.Set(key, p)
	r.broadcastPatch(statesync.CollectionPlayers, events.OpChange, key, p, nil)
}

func (r *room) setStation(key string, st statesync.Station) {
	r.state.Stations.Set(key, st)
	r.broadcastPatch(statesync.CollectionStations, events.OpChange, key, st, nil)
}

func (r *room) broadcastPatch(collection string, op events.PatchOp, key string, value any, except *Connection) {
	env, err := events.NewPatch(collection, op, key, value)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Msg("failed to build patch")
		return
	}
	r.broadcast(env, except)
}

func (r *room) broadcastMessage(name string, payload any) {
	env, err := events.NewMessage(name, payload)
	if err != nil {
		log.Error().Err(err).Str("message", name).Msg("failed to build message")
		return
	}
	r.broadcast(env, nil)
}

func (r *room) sendMessage(c *Connection, name string, payload any) {
	env, err := events.NewMessage(name, payload)
	if err != nil {
		log.Error().Err(err).Str("message", name).Msg("failed to build message")
		return
	}
	r.sendTo(c, env)
}

func (r *room) sendError(c *Connection, code int, message string) {
	r.sendTo(c, events.Envelope{Type: events.FrameError, Code: code, Message: message})
}

func (r *room) sendTo(c *Connection, env events.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame")
		return
	}
	c.enqueue(data)
}

func (r *room) broadcast(env events.Envelope, except *Connection) {
	// Marshal the frame once
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame for broadcast")
		return
	}
	for _, c := range r.conns {
		if c == except {
			continue
		}
		c.enqueue(data)
	}
}
