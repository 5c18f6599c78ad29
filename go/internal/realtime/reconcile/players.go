package reconcile

import (
	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

// Player is the local representation of one connected player.
type Player struct {
	SessionID string
	IsLocal   bool

	Username  string
	AvatarURL string
	X, Y, Z   float64
	RotY      float64
	Animation string
	StationID string
}

type PlayerSpawned struct {
	Entity       *Player
	SessionID    string
	IsLocal      bool
	InitialState statesync.Player
}

type PlayerUpdated struct {
	Entity    *Player
	SessionID string
	State     statesync.Player
}

type PlayerRemoved struct {
	SessionID string
}

// PlayerPatch lists the fields of the local player that changed. Unchanged
// fields are nil.
type PlayerPatch struct {
	Username  *string  `json:"username,omitempty"`
	AvatarURL *string  `json:"avatar_url,omitempty"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Z         *float64 `json:"z,omitempty"`
	RotY      *float64 `json:"rot_y,omitempty"`
	Animation *string  `json:"animation,omitempty"`
	StationID *string  `json:"station_id,omitempty"`
}

type PlayerEvents struct {
	Spawned bus.Signal[PlayerSpawned]
	Updated bus.Signal[PlayerUpdated]
	Removed bus.Signal[PlayerRemoved]
	// DataUpdate fires only for the local player.
	DataUpdate bus.Signal[PlayerPatch]
}

// Players reconciles the room's player collection.
type Players struct {
	*Reconciler[statesync.Player, Player]
	Events PlayerEvents
}

// NewPlayers creates a player reconciler. spawner may be nil.
func NewPlayers(sess *session.Session, lc session.Lifecycle, spawner Spawner[Player]) *Players {
	p := &Players{}
	p.Reconciler = newReconciler[statesync.Player, Player](lc, &playerKind{sess: sess, events: &p.Events}, spawner)
	return p
}

// Local returns the representation tagged as this client's own player.
func (p *Players) Local() (*Player, bool) {
	for _, key := range p.Keys() {
		if rep, _ := p.Get(key); rep.IsLocal {
			return rep, true
		}
	}
	return nil, false
}

type playerKind struct {
	sess   *session.Session
	events *PlayerEvents
}

func (k *playerKind) Name() string { return "player" }

func (k *playerKind) Collection(room session.Room) statesync.Collection[string, statesync.Player] {
	return room.Players()
}

func (k *playerKind) Create(key string, v statesync.Player) *Player {
	return &Player{
		SessionID: key,
		IsLocal:   key == k.sess.SessionID(),
		Username:  v.Username,
		AvatarURL: v.AvatarURL,
		X:         v.X,
		Y:         v.Y,
		Z:         v.Z,
		RotY:      v.RotY,
		Animation: v.Animation,
		StationID: v.StationID,
	}
}

func (k *playerKind) Added(key string, rep *Player, v statesync.Player) {
	k.events.Spawned.Emit(PlayerSpawned{
		Entity:       rep,
		SessionID:    key,
		IsLocal:      rep.IsLocal,
		InitialState: v,
	})
}

func (k *playerKind) Update(key string, rep *Player, v statesync.Player) bool {
	var patch PlayerPatch
	changed := false

	setString := func(dst *string, src string, field **string) {
		if *dst != src {
			*dst = src
			s := src
			*field = &s
			changed = true
		}
	}
	setFloat := func(dst *float64, src float64, field **float64) {
		if *dst != src {
			*dst = src
			f := src
			*field = &f
			changed = true
		}
	}

	setString(&rep.Username, v.Username, &patch.Username)
	setString(&rep.AvatarURL, v.AvatarURL, &patch.AvatarURL)
	setFloat(&rep.X, v.X, &patch.X)
	setFloat(&rep.Y, v.Y, &patch.Y)
	setFloat(&rep.Z, v.Z, &patch.Z)
	setFloat(&rep.RotY, v.RotY, &patch.RotY)
	setString(&rep.Animation, v.Animation, &patch.Animation)
	setString(&rep.StationID, v.StationID, &patch.StationID)

	if !changed {
		return false
	}
	k.events.Updated.Emit(PlayerUpdated{Entity: rep, SessionID: key, State: v})
	if rep.IsLocal {
		k.events.DataUpdate.Emit(patch)
	}
	return true
}

func (k *playerKind) Removed(key string, _ *Player) {
	k.events.Removed.Emit(PlayerRemoved{SessionID: key})
}
