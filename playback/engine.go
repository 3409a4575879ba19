package playback

import (
	"log/slog"
	"math"

	"castly-sync-server/clock"
	"castly-sync-server/domain"
)

// DefaultDriftThreshold is the deviation, in seconds, past which a client
// report triggers a private correction.
const DefaultDriftThreshold = 1.5

// Room is the view of a room the engine needs for admission and fan-out.
type Room interface {
	ID() string
	HostID() string
	IsMember(userID string) bool
	MemberIDs() []string
	AllowsMemberControl() bool
	Timeline() *Timeline
}

type Engine struct {
	clock          clock.Clock
	driftThreshold float64
}

func NewEngine(c clock.Clock, driftThreshold float64) *Engine {
	if driftThreshold <= 0 {
		driftThreshold = DefaultDriftThreshold
	}
	return &Engine{clock: c, driftThreshold: driftThreshold}
}

// Apply admits cmd from issuer and returns the update to broadcast to the
// other members. On a stale revision it returns *domain.StaleRevisionError
// carrying the current state and leaves the timeline untouched.
func (e *Engine) Apply(r Room, issuer string, cmd domain.PlaybackCommand) (domain.PlaybackUpdate, domain.Notification, error) {
	if !r.IsMember(issuer) {
		return domain.PlaybackUpdate{}, domain.Notification{}, domain.Authorizationf("%s is not a member of room %s", issuer, r.ID())
	}
	if issuer != r.HostID() && !r.AllowsMemberControl() {
		return domain.PlaybackUpdate{}, domain.Notification{}, domain.Authorizationf("only the host can control playback")
	}

	tl := r.Timeline()
	current := tl.State()
	now := e.clock.Now()
	if cmd.Revision < current.Revision {
		slog.Debug("stale playback command", "roomId", r.ID(), "userId", issuer,
			"revision", cmd.Revision, "current", current.Revision)
		return domain.PlaybackUpdate{}, domain.Notification{}, &domain.StaleRevisionError{
			Issued:       cmd.Revision,
			Current:      current,
			LivePosition: tl.live(now),
			ServerTime:   now.UnixMilli(),
		}
	}
	if cmd.Revision > current.Revision {
		return domain.PlaybackUpdate{}, domain.Notification{}, domain.Validationf("revision %d was never issued", cmd.Revision)
	}

	switch cmd.Action {
	case domain.ActionPlay:
		tl.commit(domain.StatusPlaying, positionOr(cmd.Position, tl.live(now)), now)
	case domain.ActionPause:
		tl.commit(domain.StatusPaused, positionOr(cmd.Position, tl.live(now)), now)
	case domain.ActionSeek:
		if cmd.Position == nil {
			return domain.PlaybackUpdate{}, domain.Notification{}, domain.Validationf("seek requires a position")
		}
		tl.commit(current.Status, *cmd.Position, now)
	case domain.ActionLoad:
		if cmd.MediaRef == "" {
			return domain.PlaybackUpdate{}, domain.Notification{}, domain.Validationf("load requires a mediaRef")
		}
		tl.mediaRef = cmd.MediaRef
		tl.duration = 0
		if d := cmd.DurationSeconds; d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
			tl.duration = d
		}
		tl.commit(domain.StatusPaused, 0, now)
	default:
		return domain.PlaybackUpdate{}, domain.Notification{}, domain.Validationf("unknown playback command %q", cmd.Action)
	}

	update := domain.PlaybackUpdate{
		RoomID:          r.ID(),
		State:           tl.State(),
		MediaRef:        tl.MediaRef(),
		DurationSeconds: tl.Duration(),
		IssuedBy:        issuer,
	}
	slog.Debug("playback command accepted", "roomId", r.ID(), "userId", issuer,
		"action", cmd.Action, "revision", update.State.Revision)
	return update, domain.Fanout(domain.EventPlaybackState, update, r.MemberIDs(), issuer), nil
}

// Report compares a client's observed position with the authoritative live
// position. It returns a correction for that client alone when the drift
// exceeds the threshold; the room state is never changed.
func (e *Engine) Report(r Room, userID string, observed float64) (domain.PlaybackCorrection, bool, error) {
	if !r.IsMember(userID) {
		return domain.PlaybackCorrection{}, false, domain.NotFoundf("%s is not a member of room %s", userID, r.ID())
	}
	if math.IsNaN(observed) || math.IsInf(observed, 0) {
		return domain.PlaybackCorrection{}, false, domain.Validationf("position must be a finite number")
	}

	tl := r.Timeline()
	now := e.clock.Now()
	target := tl.live(now)
	if math.Abs(observed-target) <= e.driftThreshold {
		return domain.PlaybackCorrection{}, false, nil
	}

	slog.Debug("drift correction", "roomId", r.ID(), "userId", userID,
		"observed", observed, "target", target)
	return domain.PlaybackCorrection{
		RoomID:                r.ID(),
		State:                 tl.State(),
		MediaRef:              tl.MediaRef(),
		TargetPositionSeconds: target,
		ServerTime:            now.UnixMilli(),
	}, true, nil
}

func positionOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}
