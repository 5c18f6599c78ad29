package session

import "time"

// ConnectingEvent is emitted when a connect attempt starts.
type ConnectingEvent struct {
	Attempt int `json:"attempt"`
}

// ReconnectingEvent is emitted when a reconnect is scheduled, before it fires.
type ReconnectingEvent struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
	Reason  string        `json:"reason"`
}

// ConnectionErrorEvent is emitted when a connect attempt fails.
type ConnectionErrorEvent struct {
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// DisconnectedEvent is emitted after the room connection has ended and session
// state has been cleared.
type DisconnectedEvent struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	Manual bool   `json:"manual"`
}

// RoomErrorEvent is a server-reported error on the joined room.
type RoomErrorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ExhaustedEvent is emitted when the attempt ceiling stops further reconnects.
type ExhaustedEvent struct {
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}
