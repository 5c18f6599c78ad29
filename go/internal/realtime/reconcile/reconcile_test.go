package reconcile_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/reconcile"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/session/sessiontest"
	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

type world struct {
	q         *bus.Queue
	transport *sessiontest.Transport
	conn      *session.Connector
	players   *reconcile.Players
	stations  *reconcile.Stations

	log []string
}

func newWorld(t *testing.T, spawner reconcile.Spawner[reconcile.Player]) *world {
	t.Helper()
	q := bus.NewQueue()
	transport := sessiontest.NewTransport(q)
	cfg := session.DefaultConfig()
	cfg.Endpoint = "ws://plaza.test"
	conn := session.NewConnector(cfg, transport, q,
		session.WithClock(clockwork.NewFakeClock()),
		session.WithJitter(nil),
	)
	w := &world{
		q:         q,
		transport: transport,
		conn:      conn,
		players:   reconcile.NewPlayers(conn.Session(), conn, spawner),
		stations:  reconcile.NewStations(conn.Session(), conn, nil),
	}
	w.players.Events.Spawned.Subscribe(func(e reconcile.PlayerSpawned) { w.log = append(w.log, "spawned:"+e.SessionID) })
	w.players.Events.Updated.Subscribe(func(e reconcile.PlayerUpdated) { w.log = append(w.log, "updated:"+e.SessionID) })
	w.players.Events.Removed.Subscribe(func(e reconcile.PlayerRemoved) { w.log = append(w.log, "removed:"+e.SessionID) })
	t.Cleanup(func() {
		w.players.Close()
		w.stations.Close()
		conn.Close()
	})
	return w
}

// join connects to room and runs the connected cycle.
func (w *world) join(t *testing.T, room *sessiontest.Room) {
	t.Helper()
	w.transport.NextRoom(room)
	w.conn.Connect()
	if !w.q.Wait(2 * time.Second) {
		t.Fatal("connect did not complete")
	}
	w.q.RunPending()
	if w.conn.State() != session.StateConnected {
		t.Fatalf("state = %s, want connected", w.conn.State())
	}
}

func (w *world) takeLog() []string {
	out := w.log
	w.log = nil
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPlayers_InitialSweepPrecedesLiveEvents(t *testing.T) {
	w := newWorld(t, nil)
	room := sessiontest.NewRoom("me", w.q)
	room.State.Players.Set("A", statesync.Player{Username: "ana"})
	room.State.Players.Set("B", statesync.Player{Username: "bo"})

	w.join(t, room)
	room.State.Players.Set("C", statesync.Player{Username: "cy"})
	room.State.Players.Delete("A")

	want := []string{"spawned:A", "spawned:B", "spawned:C", "removed:A"}
	if got := w.takeLog(); !equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if w.players.Len() != 2 {
		t.Errorf("Len = %d, want 2", w.players.Len())
	}
}

func TestPlayers_LocalTagging(t *testing.T) {
	w := newWorld(t, nil)
	room := sessiontest.NewRoom("me", w.q)
	room.State.Players.Set("other", statesync.Player{Username: "bo"})

	var spawned []reconcile.PlayerSpawned
	w.players.Events.Spawned.Subscribe(func(e reconcile.PlayerSpawned) { spawned = append(spawned, e) })

	w.join(t, room)
	room.State.Players.Set("me", statesync.Player{Username: "ana", X: 3})

	if len(spawned) != 2 {
		t.Fatalf("spawned %d, want 2", len(spawned))
	}
	if spawned[0].IsLocal || !spawned[1].IsLocal {
		t.Errorf("local flags = %v, %v", spawned[0].IsLocal, spawned[1].IsLocal)
	}
	if spawned[1].InitialState.X != 3 || spawned[1].Entity.Username != "ana" {
		t.Errorf("local spawn = %+v", spawned[1])
	}
	local, ok := w.players.Local()
	if !ok || local.SessionID != "me" {
		t.Errorf("Local() = %+v, %v", local, ok)
	}
}

func TestPlayers_ChangeMutatesInPlaceAndSuppressesNoOps(t *testing.T) {
	w := newWorld(t, nil)
	room := sessiontest.NewRoom("me", w.q)
	room.State.Players.Set("me", statesync.Player{Username: "ana", X: 1, Animation: "idle"})
	room.State.Players.Set("bo", statesync.Player{Username: "bo"})
	w.join(t, room)
	w.takeLog()

	entity, _ := w.players.Get("me")

	var patches []reconcile.PlayerPatch
	w.players.Events.DataUpdate.Subscribe(func(p reconcile.PlayerPatch) { patches = append(patches, p) })

	room.State.Players.Set("me", statesync.Player{Username: "ana", X: 1, Animation: "idle"})
	if got := w.takeLog(); len(got) != 0 {
		t.Fatalf("no-op change emitted %v", got)
	}

	room.State.Players.Set("me", statesync.Player{Username: "ana", X: 4, Animation: "walk"})
	if got := w.takeLog(); !equal(got, []string{"updated:me"}) {
		t.Fatalf("events = %v", got)
	}
	after, _ := w.players.Get("me")
	if after != entity {
		t.Error("representation was replaced instead of mutated")
	}
	if entity.X != 4 || entity.Animation != "walk" {
		t.Errorf("entity = %+v", entity)
	}

	if len(patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(patches))
	}
	p := patches[0]
	if p.X == nil || *p.X != 4 || p.Animation == nil || *p.Animation != "walk" {
		t.Errorf("patch = %+v", p)
	}
	if p.Username != nil || p.Y != nil || p.StationID != nil {
		t.Errorf("patch carries unchanged fields: %+v", p)
	}

	room.State.Players.Set("bo", statesync.Player{Username: "bo", Z: 2})
	if len(patches) != 1 {
		t.Error("remote player change produced a data update")
	}
}

func TestPlayers_AtMostOneRepresentationPerKey(t *testing.T) {
	w := newWorld(t, nil)
	room := sessiontest.NewRoom("me", w.q)
	w.join(t, room)

	ops := []struct {
		add bool
		key string
	}{
		{true, "A"}, {true, "A"}, {false, "A"}, {false, "A"}, {true, "A"},
		{true, "B"}, {false, "A"}, {true, "A"}, {true, "B"}, {false, "B"},
	}
	live := map[string]bool{}
	for i, op := range ops {
		if op.add {
			room.State.Players.Set(op.key, statesync.Player{Username: op.key})
			live[op.key] = true
		} else {
			room.State.Players.Delete(op.key)
			delete(live, op.key)
		}
		if w.players.Len() != len(live) {
			t.Fatalf("step %d: Len = %d, want %d", i, w.players.Len(), len(live))
		}
	}
}

func TestReconcilers_DisconnectSweepsEverything(t *testing.T) {
	w := newWorld(t, nil)
	room := sessiontest.NewRoom("me", w.q)
	room.State.Players.Set("B", statesync.Player{})
	room.State.Players.Set("A", statesync.Player{})
	room.State.Stations.Set("s1", statesync.Station{})
	w.join(t, room)
	w.takeLog()

	var stationsRemoved []string
	w.stations.Events.Removed.Subscribe(func(e reconcile.StationRemoved) {
		stationsRemoved = append(stationsRemoved, e.StationID)
	})

	room.Drop(session.CodeAbnormal, "connection reset")

	if w.players.Len() != 0 || w.stations.Len() != 0 {
		t.Fatalf("after disconnect: players %d stations %d", w.players.Len(), w.stations.Len())
	}
	if got := w.takeLog(); !equal(got, []string{"removed:A", "removed:B"}) {
		t.Errorf("sweep events = %v", got)
	}
	if !equal(stationsRemoved, []string{"s1"}) {
		t.Errorf("stations removed = %v", stationsRemoved)
	}

	// the old room's stream no longer reaches the reconciler
	room.State.Players.Set("C", statesync.Player{})
	if w.players.Len() != 0 {
		t.Error("detached collection still produces representations")
	}
}

func TestReconcilers_ReconnectDoesNotDuplicate(t *testing.T) {
	w := newWorld(t, nil)
	first := sessiontest.NewRoom("me", w.q)
	first.State.Players.Set("A", statesync.Player{})
	w.join(t, first)

	w.conn.Disconnect(session.DisconnectOptions{})
	w.q.RunPending()

	second := sessiontest.NewRoom("me-2", w.q)
	second.State.Players.Set("A", statesync.Player{})
	second.State.Players.Set("me-2", statesync.Player{})
	w.join(t, second)

	want := []string{"spawned:A", "removed:A", "spawned:A", "spawned:me-2"}
	if got := w.takeLog(); !equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	local, ok := w.players.Local()
	if !ok || local.SessionID != "me-2" {
		t.Errorf("local after reconnect = %+v", local)
	}
}

func TestStations_OwnershipFollowsClaim(t *testing.T) {
	w := newWorld(t, nil)
	room := sessiontest.NewRoom("me", w.q)
	room.State.Stations.Set("s1", statesync.Station{ClaimedBy: "me", ClaimedByUsername: "ana"})
	room.State.Stations.Set("s2", statesync.Station{})

	var added, updated []reconcile.StationEvent
	w.stations.Events.Added.Subscribe(func(e reconcile.StationEvent) { added = append(added, e) })
	w.stations.Events.Updated.Subscribe(func(e reconcile.StationEvent) { updated = append(updated, e) })

	w.join(t, room)

	if len(added) != 2 || !added[0].OwnedByLocal || added[1].OwnedByLocal {
		t.Fatalf("added = %+v", added)
	}

	room.State.Stations.Set("s2", statesync.Station{ClaimedBy: "other", ClaimedByUsername: "bo"})
	room.State.Stations.Set("s1", statesync.Station{ClaimedBy: "me", ClaimedByUsername: "ana"})
	room.State.Stations.Set("s1", statesync.Station{})

	if len(updated) != 2 {
		t.Fatalf("updated = %d events, want 2", len(updated))
	}
	if updated[0].StationID != "s2" || updated[0].OwnedByLocal || updated[0].ClaimedByUsername != "bo" {
		t.Errorf("s2 update = %+v", updated[0])
	}
	if updated[1].StationID != "s1" || updated[1].OwnedByLocal || updated[1].ClaimedBy != "" {
		t.Errorf("s1 release = %+v", updated[1])
	}
}

type recordingSpawner struct {
	fail     map[string]bool
	spawned  []string
	released []string
}

func (s *recordingSpawner) Spawn(key string, _ *reconcile.Player) (func(), error) {
	if s.fail[key] {
		return nil, errors.New("avatar unavailable")
	}
	s.spawned = append(s.spawned, key)
	return func() { s.released = append(s.released, key) }, nil
}

func TestPlayers_SpawnerOwnsResources(t *testing.T) {
	spawner := &recordingSpawner{fail: map[string]bool{"broken": true}}
	w := newWorld(t, spawner)
	room := sessiontest.NewRoom("me", w.q)
	room.State.Players.Set("A", statesync.Player{})
	room.State.Players.Set("broken", statesync.Player{})
	room.State.Players.Set("B", statesync.Player{})
	w.join(t, room)

	if !equal(spawner.spawned, []string{"A", "B"}) {
		t.Fatalf("spawned = %v", spawner.spawned)
	}
	if _, ok := w.players.Get("broken"); ok {
		t.Error("representation kept after spawn failure")
	}

	room.State.Players.Delete("A")
	room.Drop(session.CodeAbnormal, "drop")

	if !equal(spawner.released, []string{"A", "B"}) {
		t.Errorf("released = %v", spawner.released)
	}
}

func TestPlayers_PanickingSubscriberDropsOnlyThatEvent(t *testing.T) {
	w := newWorld(t, nil)
	w.players.Events.Spawned.Subscribe(func(e reconcile.PlayerSpawned) {
		if e.SessionID == "A" {
			panic("bad avatar")
		}
	})
	room := sessiontest.NewRoom("me", w.q)
	room.State.Players.Set("A", statesync.Player{})
	room.State.Players.Set("B", statesync.Player{})
	w.join(t, room)

	if w.players.Len() != 2 {
		t.Errorf("Len = %d, want 2", w.players.Len())
	}
	if _, ok := w.players.Get("B"); !ok {
		t.Error("sweep stopped after a panicking subscriber")
	}
}
