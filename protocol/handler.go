package protocol

import (
	"encoding/json"
	"log/slog"

	"castly-sync-server/domain"
)

// Service executes decoded client events. Each method answers the issuing
// connection itself, including rejections.
type Service interface {
	Identify(conn domain.Connection, id domain.Identity)
	Join(conn domain.Connection, roomID string)
	Leave(conn domain.Connection, roomID string)
	TransferHost(conn domain.Connection, roomID, newHostID string)
	Configure(conn domain.Connection, roomID string, allowMemberControl bool)
	Playback(conn domain.Connection, roomID string, cmd domain.PlaybackCommand)
	Report(conn domain.Connection, roomID string, position float64)
	Chat(conn domain.Connection, roomID, text string)
	Signal(conn domain.Connection, env domain.SignalingEnvelope)
	Ping(conn domain.Connection, clientTime int64)
}

type Handler struct {
	service Service
}

func NewHandler(s Service) *Handler {
	return &Handler{service: s}
}

// Handle decodes one frame and routes it. Malformed frames are answered
// with an error event to the sender only.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("invalid message", "connId", conn.ID(), "error", err)
		Reject(conn, "", domain.Validationf("malformed frame"))
		return
	}

	switch env.Type {
	case domain.EventIdentify:
		var p IdentifyPayload
		if h.decode(conn, env, &p) {
			h.service.Identify(conn, domain.Identity{UserID: p.UserID, UserData: p.UserData})
		}
	case domain.EventRoomJoin:
		var p RoomPayload
		if h.decode(conn, env, &p) {
			h.service.Join(conn, p.RoomID)
		}
	case domain.EventRoomLeave:
		var p RoomPayload
		if h.decode(conn, env, &p) {
			h.service.Leave(conn, p.RoomID)
		}
	case domain.EventRoomTransfer:
		var p TransferHostPayload
		if h.decode(conn, env, &p) {
			h.service.TransferHost(conn, p.RoomID, p.NewHostID)
		}
	case domain.EventRoomConfigure:
		var p ConfigurePayload
		if h.decode(conn, env, &p) {
			h.service.Configure(conn, p.RoomID, p.AllowMemberControl)
		}
	case domain.EventPlaybackCommand:
		var p PlaybackCommandPayload
		if h.decode(conn, env, &p) {
			h.service.Playback(conn, p.RoomID, p.PlaybackCommand())
		}
	case domain.EventPlaybackReport:
		var p PlaybackReportPayload
		if h.decode(conn, env, &p) {
			h.service.Report(conn, p.RoomID, p.PositionSeconds)
		}
	case domain.EventChatSend:
		var p ChatSendPayload
		if h.decode(conn, env, &p) {
			h.service.Chat(conn, p.RoomID, p.Text)
		}
	case domain.EventSignal:
		var p SignalPayload
		if h.decode(conn, env, &p) {
			h.service.Signal(conn, domain.SignalingEnvelope{
				ToID:    p.ToID,
				RoomID:  p.RoomID,
				Kind:    domain.SignalKind(p.Kind),
				Payload: p.Payload,
			})
		}
	case domain.EventPing:
		var p PingPayload
		if h.decode(conn, env, &p) {
			h.service.Ping(conn, p.Timestamp)
		}
	default:
		slog.Debug("unknown event", "connId", conn.ID(), "type", env.Type)
		Reject(conn, env.Type, domain.Validationf("unknown event %q", env.Type))
	}
}

func (h *Handler) decode(conn domain.Connection, env Envelope, v any) bool {
	if len(env.Payload) == 0 {
		Reject(conn, env.Type, domain.Validationf("missing payload"))
		return false
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		slog.Debug("invalid payload", "connId", conn.ID(), "type", env.Type, "error", err)
		Reject(conn, env.Type, domain.Validationf("malformed %s payload", env.Type))
		return false
	}
	return true
}
