package protocol

import (
	"errors"
	"log/slog"

	"castly-sync-server/domain"
)

// Rejection converts err into the error event sent to the issuer. Errors
// outside the taxonomy are reported with a generic message.
func Rejection(event string, err error) ErrorPayload {
	kind := domain.KindOf(err)
	p := ErrorPayload{Code: string(kind), Event: event}

	var stale *domain.StaleRevisionError
	var derr *domain.Error
	switch {
	case errors.As(err, &stale):
		state, live := stale.Current, stale.LivePosition
		p.Message = "playback command is behind the current revision"
		p.State = &state
		p.LivePositionSeconds = &live
		p.ServerTime = stale.ServerTime
	case errors.As(err, &derr) && kind != domain.KindInternal:
		p.Message = derr.Message
	default:
		p.Message = "internal error"
	}
	return p
}

// Reject sends a rejection of event to conn.
func Reject(conn domain.Connection, event string, err error) {
	RejectPayload(conn, Rejection(event, err))
}

func RejectPayload(conn domain.Connection, p ErrorPayload) {
	data, err := Encode(domain.EventError, p)
	if err != nil {
		slog.Error("encode rejection", "connId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send rejection", "connId", conn.ID(), "error", err)
	}
}
