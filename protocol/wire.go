package protocol

import (
	"encoding/json"

	"castly-sync-server/domain"
)

// Envelope is the frame shape for both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type IdentifyPayload struct {
	UserID   string          `json:"userId"`
	UserData json.RawMessage `json:"userData,omitempty"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type TransferHostPayload struct {
	RoomID    string `json:"roomId"`
	NewHostID string `json:"newHostId"`
}

type ConfigurePayload struct {
	RoomID             string `json:"roomId"`
	AllowMemberControl bool   `json:"allowMemberControl"`
}

type PlaybackCommandPayload struct {
	RoomID          string   `json:"roomId"`
	Command         string   `json:"command"`
	PositionSeconds *float64 `json:"positionSeconds,omitempty"`
	Revision        uint64   `json:"revision"`
	MediaRef        string   `json:"mediaRef,omitempty"`
	DurationSeconds float64  `json:"durationSeconds,omitempty"`
}

func (p PlaybackCommandPayload) PlaybackCommand() domain.PlaybackCommand {
	return domain.PlaybackCommand{
		Action:          domain.PlaybackAction(p.Command),
		Position:        p.PositionSeconds,
		Revision:        p.Revision,
		MediaRef:        p.MediaRef,
		DurationSeconds: p.DurationSeconds,
	}
}

type PlaybackReportPayload struct {
	RoomID          string  `json:"roomId"`
	PositionSeconds float64 `json:"positionSeconds"`
}

type ChatSendPayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

type SignalPayload struct {
	ToID    string          `json:"toId"`
	RoomID  string          `json:"roomId,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type PongPayload struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

type IdentifiedPayload struct {
	UserID       string   `json:"userId"`
	ConnectionID string   `json:"connectionId"`
	Resumed      bool     `json:"resumed"`
	Rooms        []string `json:"rooms"`
}

type PresenceSnapshotPayload struct {
	Users []domain.Identity `json:"users"`
}

type RoomLeftPayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload rejects one inbound event. State, LivePositionSeconds and
// ServerTime are set for stale playback commands so the client can resync
// without another round trip.
type ErrorPayload struct {
	Code                string                `json:"code"`
	Message             string                `json:"message"`
	Event               string                `json:"event,omitempty"`
	RoomID              string                `json:"roomId,omitempty"`
	State               *domain.PlaybackState `json:"state,omitempty"`
	LivePositionSeconds *float64              `json:"livePositionSeconds,omitempty"`
	ServerTime          int64                 `json:"serverTime,omitempty"`
}

// Encode marshals an outbound event.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}
