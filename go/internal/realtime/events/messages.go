// Package events defines the named messages exchanged between a plaza client
// and its room server, and the envelope frames that carry them.
package events

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Inbound message names (server to client).
const (
	ChatMessage       = "chatMessage"
	ClaimSuccess      = "claimSuccess"
	ClaimError        = "claimError"
	StationReleased   = "stationReleased"
	DonationConfirmed = "donationConfirmed"
	ServerNotice      = "serverNotice"
)

// Outbound message names (client to server).
const (
	ClaimStation   = "claimStation"
	ReleaseStation = "releaseStation"
	Chat           = "chat"
	Move           = "move"
	UpdateStation  = "updateStation"
	// Donate is accepted by the development server to simulate a completed
	// payment; real donations are confirmed by the payment backend.
	Donate = "donate"
)

// Emote is used in both directions.
const Emote = "emote"

// Inbound lists every message name a client binds on connect.
var Inbound = []string{
	ChatMessage,
	ClaimSuccess,
	ClaimError,
	StationReleased,
	DonationConfirmed,
	Emote,
	ServerNotice,
}

const (
	MaxChatLength        = 280
	MaxStationTextLength = 120
	MaxEmoteLength       = 32
)

// ErrInvalidPayload is returned when an outbound payload fails validation.
var ErrInvalidPayload = errors.New("invalid payload")

type ChatMessagePayload struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	SentAt    int64  `json:"sent_at"`
}

type ClaimSuccessPayload struct {
	StationID string `json:"station_id"`
}

type ClaimErrorPayload struct {
	StationID string `json:"station_id"`
	Reason    string `json:"reason"`
}

type StationReleasedPayload struct {
	StationID string `json:"station_id"`
	SessionID string `json:"session_id"`
}

type DonationPayload struct {
	StationID     string `json:"station_id"`
	Amount        int64  `json:"amount"`
	DonorUsername string `json:"donor_username"`
	Recipient     string `json:"recipient"`
	Message       string `json:"message,omitempty"`
}

type EmotePayload struct {
	SessionID string `json:"session_id"`
	Emote     string `json:"emote"`
}

type NoticePayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type ClaimStationRequest struct {
	StationID string `json:"station_id"`
}

type ReleaseStationRequest struct {
	StationID string `json:"station_id"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type MoveRequest struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	RotY      float64 `json:"rot_y"`
	Animation string  `json:"animation,omitempty"`
}

type UpdateStationRequest struct {
	StationID string `json:"station_id"`
	Text      string `json:"text"`
}

type EmoteRequest struct {
	Emote string `json:"emote"`
}

type DonateRequest struct {
	StationID string `json:"station_id"`
	Amount    int64  `json:"amount"`
	Message   string `json:"message,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func stationID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid("station id is required")
	}
	return id, nil
}

func (r ClaimStationRequest) Normalize() (ClaimStationRequest, error) {
	id, err := stationID(r.StationID)
	return ClaimStationRequest{StationID: id}, err
}

func (r ReleaseStationRequest) Normalize() (ReleaseStationRequest, error) {
	id, err := stationID(r.StationID)
	return ReleaseStationRequest{StationID: id}, err
}

// Normalize trims the text and truncates it to MaxChatLength runes.
func (r ChatRequest) Normalize() (ChatRequest, error) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return ChatRequest{}, invalid("chat text is empty")
	}
	return ChatRequest{Text: truncate(text, MaxChatLength)}, nil
}

// Normalize rejects non-finite coordinates.
func (r MoveRequest) Normalize() (MoveRequest, error) {
	for _, v := range []float64{r.X, r.Y, r.Z, r.RotY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return MoveRequest{}, invalid("non-finite coordinate %v", v)
		}
	}
	r.Animation = strings.TrimSpace(r.Animation)
	return r, nil
}

func (r UpdateStationRequest) Normalize() (UpdateStationRequest, error) {
	id, err := stationID(r.StationID)
	if err != nil {
		return UpdateStationRequest{}, err
	}
	return UpdateStationRequest{
		StationID: id,
		Text:      truncate(strings.TrimSpace(r.Text), MaxStationTextLength),
	}, nil
}

func (r EmoteRequest) Normalize() (EmoteRequest, error) {
	emote := strings.ToLower(strings.TrimSpace(r.Emote))
	if emote == "" {
		return EmoteRequest{}, invalid("emote is empty")
	}
	if utf8.RuneCountInString(emote) > MaxEmoteLength {
		return EmoteRequest{}, invalid("emote %q is too long", emote)
	}
	return EmoteRequest{Emote: emote}, nil
}

func (r DonateRequest) Normalize() (DonateRequest, error) {
	id, err := stationID(r.StationID)
	if err != nil {
		return DonateRequest{}, err
	}
	if r.Amount <= 0 {
		return DonateRequest{}, invalid("donation amount must be positive")
	}
	return DonateRequest{
		StationID: id,
		Amount:    r.Amount,
		Message:   truncate(strings.TrimSpace(r.Message), MaxChatLength),
	}, nil
}
