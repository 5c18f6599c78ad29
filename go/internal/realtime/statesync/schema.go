package statesync

// Collection names used on the wire.
const (
	CollectionPlayers  = "players"
	CollectionStations = "stations"
)

// Player is one connected player as published by the server, keyed by session id.
type Player struct {
	Username  string  `json:"username"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	RotY      float64 `json:"rot_y"`
	Animation string  `json:"animation,omitempty"`
	StationID string  `json:"station_id,omitempty"`
}

// Station is one claimable station as published by the server, keyed by station id.
type Station struct {
	ClaimedBy         string `json:"claimed_by,omitempty"`
	ClaimedByUsername string `json:"claimed_by_username,omitempty"`
	Text              string `json:"text,omitempty"`
	DonationTotal     int64  `json:"donation_total"`
}

// Claimed reports whether any session currently owns the station.
func (s Station) Claimed() bool {
	return s.ClaimedBy != ""
}

// RoomState groups the collections a room exposes.
type RoomState struct {
	Players  *MapCollection[string, Player]
	Stations *MapCollection[string, Station]
}

// NewRoomState creates empty collections.
func NewRoomState() *RoomState {
	return &RoomState{
		Players:  NewMapCollection[string, Player](),
		Stations: NewMapCollection[string, Station](),
	}
}
