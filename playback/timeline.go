package playback

import (
	"math"
	"time"

	"castly-sync-server/domain"
)

// Timeline is the per-room playback state machine. The owning room holds
// it; only Engine mutates it.
type Timeline struct {
	state    domain.PlaybackState
	mediaRef string
	duration float64
}

// NewTimeline starts paused at zero with revision 0.
func NewTimeline(now time.Time) *Timeline {
	return &Timeline{
		state: domain.PlaybackState{
			Status:              domain.StatusPaused,
			LastUpdateTimestamp: now.UnixMilli(),
		},
	}
}

func (t *Timeline) State() domain.PlaybackState { return t.state }
func (t *Timeline) MediaRef() string            { return t.mediaRef }
func (t *Timeline) Duration() float64           { return t.duration }

func (t *Timeline) clamp(pos float64) float64 {
	if math.IsNaN(pos) || math.IsInf(pos, 0) || pos < 0 {
		return 0
	}
	if t.duration > 0 && pos > t.duration {
		return t.duration
	}
	return pos
}

// live returns the clamped position at now, so a playing room never
// reports past the end of known media.
func (t *Timeline) live(now time.Time) float64 {
	return t.clamp(t.state.LivePosition(now))
}

func (t *Timeline) commit(status domain.PlaybackStatus, pos float64, now time.Time) {
	t.state = domain.PlaybackState{
		Status:              status,
		PositionSeconds:     t.clamp(pos),
		LastUpdateTimestamp: now.UnixMilli(),
		Revision:            t.state.Revision + 1,
	}
}
