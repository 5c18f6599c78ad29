package events

import (
	"encoding/json"

	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

// FrameType identifies an envelope on the room websocket.
type FrameType string

const (
	// FrameJoined is the server's first frame: session id, room id and snapshot.
	FrameJoined FrameType = "joined"
	// FramePatch carries one collection diff.
	FramePatch FrameType = "patch"
	// FrameMessage carries one named message in either direction.
	FrameMessage FrameType = "message"
	// FrameError reports a room error.
	FrameError FrameType = "error"
	// FrameLeave is sent by the client before a consented close.
	FrameLeave FrameType = "leave"
)

// PatchOp is the kind of collection diff.
type PatchOp string

const (
	OpAdd    PatchOp = "add"
	OpChange PatchOp = "change"
	OpRemove PatchOp = "remove"
)

// Envelope is one websocket frame. Which fields are set depends on Type.
type Envelope struct {
	Type FrameType `json:"type"`

	// joined
	SessionID string    `json:"session_id,omitempty"`
	RoomID    string    `json:"room_id,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`

	// patch
	Collection string          `json:"collection,omitempty"`
	Op         PatchOp         `json:"op,omitempty"`
	Key        string          `json:"key,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`

	// message
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// error
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Snapshot is the room state at join time, in collection iteration order.
type Snapshot struct {
	Players  []PlayerEntry  `json:"players"`
	Stations []StationEntry `json:"stations"`
}

type PlayerEntry struct {
	Key   string           `json:"key"`
	Value statesync.Player `json:"value"`
}

type StationEntry struct {
	Key   string            `json:"key"`
	Value statesync.Station `json:"value"`
}

// NewMessage builds a message envelope, marshalling payload.
func NewMessage(name string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: FrameMessage, Name: name, Payload: data}, nil
}

// NewPatch builds a patch envelope. value is ignored for removals.
func NewPatch(collection string, op PatchOp, key string, value any) (Envelope, error) {
	env := Envelope{Type: FramePatch, Collection: collection, Op: op, Key: key}
	if op == OpRemove {
		return env, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return Envelope{}, err
	}
	env.Value = data
	return env, nil
}
