package router_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/events"
	"github.com/mcdev12/plaza/go/internal/realtime/router"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/session/sessiontest"
)

type fixture struct {
	q         *bus.Queue
	transport *sessiontest.Transport
	conn      *session.Connector
	intents   *router.Intents
	router    *router.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	q := bus.NewQueue()
	transport := sessiontest.NewTransport(q)
	cfg := session.DefaultConfig()
	cfg.Endpoint = "ws://plaza.test"
	conn := session.NewConnector(cfg, transport, q, session.WithClock(clockwork.NewFakeClock()))
	intents := &router.Intents{}
	r := router.New(conn.Session(), conn, intents)
	t.Cleanup(func() {
		r.Close()
		conn.Close()
	})
	return &fixture{q: q, transport: transport, conn: conn, intents: intents, router: r}
}

func (f *fixture) connect(t *testing.T) *sessiontest.Room {
	t.Helper()
	f.conn.Connect()
	if !f.q.Wait(2 * time.Second) {
		t.Fatal("connect did not complete")
	}
	f.q.RunPending()
	room := f.transport.LastRoom()
	if room == nil || f.conn.State() != session.StateConnected {
		t.Fatalf("not connected: state %s", f.conn.State())
	}
	return room
}

func TestRouter_ForwardsNormalizedIntents(t *testing.T) {
	f := newFixture(t)
	room := f.connect(t)

	f.intents.Chat.Emit(events.ChatRequest{Text: "  gm plaza  "})
	f.intents.ClaimStation.Emit(events.ClaimStationRequest{StationID: "station-3"})
	f.intents.Move.Emit(events.MoveRequest{X: 1, Y: 0, Z: -2, RotY: 1.5, Animation: "walk"})

	sent := room.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	if sent[0].Name != events.Chat || string(sent[0].Payload) != `{"text":"gm plaza"}` {
		t.Errorf("chat = %s %s", sent[0].Name, sent[0].Payload)
	}
	if sent[1].Name != events.ClaimStation || string(sent[1].Payload) != `{"station_id":"station-3"}` {
		t.Errorf("claim = %s %s", sent[1].Name, sent[1].Payload)
	}
	var move events.MoveRequest
	if err := json.Unmarshal(sent[2].Payload, &move); err != nil {
		t.Fatalf("decode move: %v", err)
	}
	if sent[2].Name != events.Move || move.Z != -2 || move.Animation != "walk" {
		t.Errorf("move = %s %+v", sent[2].Name, move)
	}
}

func TestRouter_DropsIntentsWhileDisconnected(t *testing.T) {
	f := newFixture(t)

	f.intents.Chat.Emit(events.ChatRequest{Text: "anyone?"})
	f.intents.Emote.Emit(events.EmoteRequest{Emote: "wave"})

	if f.router.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", f.router.Dropped())
	}

	// nothing is queued for later delivery
	room := f.connect(t)
	if n := len(room.Sent()); n != 0 {
		t.Errorf("sent %d messages after connecting, want 0", n)
	}
}

func TestRouter_RejectsInvalidIntents(t *testing.T) {
	f := newFixture(t)
	room := f.connect(t)

	f.intents.Chat.Emit(events.ChatRequest{Text: "   "})
	f.intents.ReleaseStation.Emit(events.ReleaseStationRequest{})

	if n := len(room.Sent()); n != 0 {
		t.Errorf("sent %d invalid messages", n)
	}
	if f.router.Dropped() != 0 {
		t.Errorf("invalid intents counted as dropped")
	}
}

func TestRouter_InboundRoutes(t *testing.T) {
	f := newFixture(t)
	room := f.connect(t)

	var log []router.ChatEntry
	var claims []events.ClaimSuccessPayload
	var failures []events.ClaimErrorPayload
	var notices []events.NoticePayload
	f.router.Events.ChatLog.Subscribe(func(e router.ChatEntry) { log = append(log, e) })
	f.router.Events.ClaimSucceeded.Subscribe(func(p events.ClaimSuccessPayload) { claims = append(claims, p) })
	f.router.Events.ClaimFailed.Subscribe(func(p events.ClaimErrorPayload) { failures = append(failures, p) })
	f.router.Events.Notice.Subscribe(func(p events.NoticePayload) { notices = append(notices, p) })

	room.Deliver(events.ChatMessage, events.ChatMessagePayload{SessionID: "s2", Username: "bea", Text: "hi", SentAt: 1700000000000})
	room.Deliver(events.ClaimSuccess, events.ClaimSuccessPayload{StationID: "station-1"})
	room.Deliver(events.ClaimError, events.ClaimErrorPayload{StationID: "station-2", Reason: "already claimed"})
	room.Deliver(events.ServerNotice, events.NoticePayload{Level: "info", Text: "restart in 5m"})

	if len(log) != 1 || log[0].Kind != router.ChatPlayer || log[0].Username != "bea" {
		t.Errorf("chat log = %+v", log)
	}
	if !log[0].SentAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("SentAt = %v", log[0].SentAt)
	}
	if len(claims) != 1 || claims[0].StationID != "station-1" {
		t.Errorf("claims = %+v", claims)
	}
	if len(failures) != 1 || failures[0].Reason != "already claimed" {
		t.Errorf("failures = %+v", failures)
	}
	if len(notices) != 1 || notices[0].Text != "restart in 5m" {
		t.Errorf("notices = %+v", notices)
	}
}

func TestRouter_DonationFansOut(t *testing.T) {
	f := newFixture(t)
	room := f.connect(t)

	var order []string
	var entry router.ChatEntry
	f.router.Events.Donation.Subscribe(func(events.DonationPayload) { order = append(order, "effect") })
	f.router.Events.ChatLog.Subscribe(func(e router.ChatEntry) {
		order = append(order, "chat")
		entry = e
	})

	room.Deliver(events.DonationConfirmed, events.DonationPayload{
		StationID:     "station-1",
		Amount:        1250,
		DonorUsername: "cal",
		Recipient:     "ana",
		Message:       "love the art",
	})

	if len(order) != 2 || order[0] != "effect" || order[1] != "chat" {
		t.Fatalf("emission order = %v, want [effect chat]", order)
	}
	if entry.Kind != router.ChatDonation || entry.Text != "donated $12.50 to ana: love the art" {
		t.Errorf("chat entry = %+v", entry)
	}
}

func TestRouter_MalformedPayloadIsDropped(t *testing.T) {
	f := newFixture(t)
	room := f.connect(t)

	var claims int
	f.router.Events.ClaimSucceeded.Subscribe(func(events.ClaimSuccessPayload) { claims++ })

	room.Deliver(events.ClaimSuccess, `{"station_id":`)
	room.Deliver(events.ClaimSuccess, `{"station_id":"station-9"}`)

	if claims != 1 {
		t.Errorf("claims = %d, want 1", claims)
	}
}

func TestRouter_PanickingSubscriberDoesNotStopStream(t *testing.T) {
	f := newFixture(t)
	room := f.connect(t)

	var emotes int
	f.router.Events.Emote.Subscribe(func(p events.EmotePayload) {
		if p.Emote == "boom" {
			panic("renderer failed")
		}
		emotes++
	})

	room.Deliver(events.Emote, events.EmotePayload{SessionID: "s1", Emote: "boom"})
	room.Deliver(events.Emote, events.EmotePayload{SessionID: "s1", Emote: "wave"})

	if emotes != 1 {
		t.Errorf("emotes = %d, want 1", emotes)
	}
}

func TestRouter_RebindsPerConnection(t *testing.T) {
	f := newFixture(t)
	first := f.connect(t)

	for _, name := range events.Inbound {
		if n := first.Handlers(name); n != 1 {
			t.Errorf("%s: %d handlers, want 1", name, n)
		}
	}

	first.Drop(session.CodeAbnormal, "lost")
	if f.router.Bound() {
		t.Fatal("router still bound after disconnect")
	}
	if n := first.Handlers(events.ChatMessage); n != 0 {
		t.Errorf("old room keeps %d handlers", n)
	}

	f.conn.NetworkOnline()
	deadline := time.Now().Add(2 * time.Second)
	for f.conn.State() != session.StateConnected && time.Now().Before(deadline) {
		if f.q.Wait(100 * time.Millisecond) {
			f.q.RunPending()
		}
	}
	second := f.transport.LastRoom()
	if second == first {
		t.Fatal("no new room after reconnect")
	}
	if n := second.Handlers(events.ChatMessage); n != 1 {
		t.Errorf("new room has %d chat handlers, want 1", n)
	}
}
