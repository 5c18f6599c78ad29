package reconcile

import (
	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

// Station is the local representation of one claimable station.
type Station struct {
	StationID         string
	ClaimedBy         string
	ClaimedByUsername string
	Text              string
	DonationTotal     int64
	// OwnedByLocal is true when this client's session holds the claim.
	OwnedByLocal bool
}

// StationEvent is emitted for station additions and updates.
type StationEvent struct {
	Entity            *Station
	StationID         string
	ClaimedBy         string
	ClaimedByUsername string
	Text              string
	DonationTotal     int64
	OwnedByLocal      bool
}

type StationRemoved struct {
	StationID string
}

type StationEvents struct {
	Added   bus.Signal[StationEvent]
	Updated bus.Signal[StationEvent]
	Removed bus.Signal[StationRemoved]
}

// Stations reconciles the room's station collection.
type Stations struct {
	*Reconciler[statesync.Station, Station]
	Events StationEvents
}

// NewStations creates a station reconciler. spawner may be nil.
func NewStations(sess *session.Session, lc session.Lifecycle, spawner Spawner[Station]) *Stations {
	s := &Stations{}
	s.Reconciler = newReconciler[statesync.Station, Station](lc, &stationKind{sess: sess, events: &s.Events}, spawner)
	return s
}

type stationKind struct {
	sess   *session.Session
	events *StationEvents
}

func (k *stationKind) Name() string { return "station" }

func (k *stationKind) Collection(room session.Room) statesync.Collection[string, statesync.Station] {
	return room.Stations()
}

func (k *stationKind) ownedByLocal(claimedBy string) bool {
	return claimedBy != "" && claimedBy == k.sess.SessionID()
}

func (k *stationKind) Create(key string, v statesync.Station) *Station {
	return &Station{
		StationID:         key,
		ClaimedBy:         v.ClaimedBy,
		ClaimedByUsername: v.ClaimedByUsername,
		Text:              v.Text,
		DonationTotal:     v.DonationTotal,
		OwnedByLocal:      k.ownedByLocal(v.ClaimedBy),
	}
}

func (k *stationKind) Added(_ string, rep *Station, _ statesync.Station) {
	k.events.Added.Emit(stationEvent(rep))
}

func (k *stationKind) Update(_ string, rep *Station, v statesync.Station) bool {
	changed := false
	if rep.ClaimedBy != v.ClaimedBy {
		rep.ClaimedBy = v.ClaimedBy
		rep.OwnedByLocal = k.ownedByLocal(v.ClaimedBy)
		changed = true
	}
	if rep.ClaimedByUsername != v.ClaimedByUsername {
		rep.ClaimedByUsername = v.ClaimedByUsername
		changed = true
	}
	if rep.Text != v.Text {
		rep.Text = v.Text
		changed = true
	}
	if rep.DonationTotal != v.DonationTotal {
		rep.DonationTotal = v.DonationTotal
		changed = true
	}
	if changed {
		k.events.Updated.Emit(stationEvent(rep))
	}
	return changed
}

func (k *stationKind) Removed(key string, _ *Station) {
	k.events.Removed.Emit(StationRemoved{StationID: key})
}

func stationEvent(rep *Station) StationEvent {
	return StationEvent{
		Entity:            rep,
		StationID:         rep.StationID,
		ClaimedBy:         rep.ClaimedBy,
		ClaimedByUsername: rep.ClaimedByUsername,
		Text:              rep.Text,
		DonationTotal:     rep.DonationTotal,
		OwnedByLocal:      rep.OwnedByLocal,
	}
}
