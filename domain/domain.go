package domain

import (
	"encoding/json"
	"time"
)

type Identity struct {
	UserID   string          `json:"userId"`
	UserData json.RawMessage `json:"userData,omitempty"`
}

type PlaybackStatus string

const (
	StatusPlaying PlaybackStatus = "playing"
	StatusPaused  PlaybackStatus = "paused"
)

// PlaybackState is the authoritative media position of a room.
// LastUpdateTimestamp is in Unix milliseconds.
type PlaybackState struct {
	Status              PlaybackStatus `json:"status"`
	PositionSeconds     float64        `json:"positionSeconds"`
	LastUpdateTimestamp int64          `json:"lastUpdateTimestamp"`
	Revision            uint64         `json:"revision"`
}

// LivePosition infers the media position at the given instant.
func (s PlaybackState) LivePosition(at time.Time) float64 {
	if s.Status != StatusPlaying {
		return s.PositionSeconds
	}
	elapsed := float64(at.UnixMilli()-s.LastUpdateTimestamp) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	return s.PositionSeconds + elapsed
}

type PlaybackAction string

const (
	ActionPlay  PlaybackAction = "play"
	ActionPause PlaybackAction = "pause"
	ActionSeek  PlaybackAction = "seek"
	ActionLoad  PlaybackAction = "load"
)

// PlaybackCommand is a client request to mutate a room's playback state.
// Revision is the last revision the client observed.
type PlaybackCommand struct {
	Action          PlaybackAction
	Position        *float64
	Revision        uint64
	MediaRef        string
	DurationSeconds float64
}

type ChatMessage struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
	RoomID   string `json:"roomId"`
	Text     string `json:"text"`
	SentAt   int64  `json:"sentAt"`
	Sequence uint64 `json:"sequence"`
}

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

type SignalingEnvelope struct {
	FromID  string          `json:"fromId"`
	ToID    string          `json:"toId"`
	RoomID  string          `json:"roomId,omitempty"`
	Kind    SignalKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Notification is an outbound event addressed to identities. Every live
// connection of each recipient receives it unless the identity is excluded.
type Notification struct {
	Event      string
	Payload    any
	Recipients []string
	Exclude    []string
}

// Fanout builds a notification for recipients minus the exclusion set.
func Fanout(event string, payload any, recipients []string, exclude ...string) Notification {
	return Notification{Event: event, Payload: payload, Recipients: recipients, Exclude: exclude}
}

// Targets resolves the recipients that remain after exclusions, in order.
func (n Notification) Targets() []string {
	if len(n.Exclude) == 0 {
		return n.Recipients
	}
	skip := make(map[string]struct{}, len(n.Exclude))
	for _, id := range n.Exclude {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(n.Recipients))
	for _, id := range n.Recipients {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}
