package signaling

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"castly-sync-server/domain"
)

const DefaultMaxPayload = 64 << 10

// Membership answers the room questions the relay needs. It must not expose
// anything about rooms the sender is not in.
type Membership interface {
	IsMember(roomID, userID string) bool
	SharesRoom(a, b string) bool
}

// Relay forwards call-setup envelopes between two identities that share a
// room. Payloads are opaque and never retained.
type Relay struct {
	rooms      Membership
	maxPayload int
}

func NewRelay(rooms Membership, maxPayload int) *Relay {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Relay{rooms: rooms, maxPayload: maxPayload}
}

// Relay validates env and addresses it to the recipient. ok is false when
// the envelope is dropped silently because the two identities share no room.
func (r *Relay) Relay(env domain.SignalingEnvelope) (note domain.Notification, ok bool, err error) {
	switch env.Kind {
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate:
	default:
		return domain.Notification{}, false, domain.Validationf("unknown signal kind %q", env.Kind)
	}
	if env.ToID == "" {
		return domain.Notification{}, false, domain.Validationf("missing recipient")
	}
	if env.ToID == env.FromID {
		return domain.Notification{}, false, domain.Validationf("cannot signal yourself")
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return domain.Notification{}, false, domain.Validationf("missing payload")
	}
	if len(payload) > r.maxPayload {
		return domain.Notification{}, false, domain.Validationf("payload exceeds %d bytes", r.maxPayload)
	}
	if !json.Valid(payload) {
		return domain.Notification{}, false, domain.Validationf("payload is not valid JSON")
	}

	if !r.connected(env) {
		slog.Debug("signal dropped", "fromId", env.FromID, "toId", env.ToID, "roomId", env.RoomID, "kind", env.Kind)
		return domain.Notification{}, false, nil
	}
	return domain.Fanout(domain.EventSignal, env, []string{env.ToID}), true, nil
}

func (r *Relay) connected(env domain.SignalingEnvelope) bool {
	if env.RoomID != "" {
		return r.rooms.IsMember(env.RoomID, env.FromID) && r.rooms.IsMember(env.RoomID, env.ToID)
	}
	return r.rooms.SharesRoom(env.FromID, env.ToID)
}
