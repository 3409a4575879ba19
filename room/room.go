package room

import (
	"time"

	"castly-sync-server/domain"
	"castly-sync-server/playback"
)

type member struct {
	identity domain.Identity
	joinedAt time.Time
	joinSeq  uint64
}

// Room is a synchronization scope. Members are kept in join order so the
// earliest remaining member can inherit the host role.
type Room struct {
	id                 string
	members            []*member
	hostID             string
	timeline           *playback.Timeline
	allowMemberControl bool
	chatSeq            uint64
}

func (r *Room) ID() string                   { return r.id }
func (r *Room) HostID() string               { return r.hostID }
func (r *Room) AllowsMemberControl() bool    { return r.allowMemberControl }
func (r *Room) Timeline() *playback.Timeline { return r.timeline }
func (r *Room) Len() int                     { return len(r.members) }

func (r *Room) IsMember(userID string) bool {
	return r.indexOf(userID) >= 0
}

func (r *Room) MemberIDs() []string {
	ids := make([]string, len(r.members))
	for i, m := range r.members {
		ids[i] = m.identity.UserID
	}
	return ids
}

func (r *Room) Members() []domain.Identity {
	out := make([]domain.Identity, len(r.members))
	for i, m := range r.members {
		out[i] = m.identity
	}
	return out
}

// NextChatSequence allocates the next per-room chat sequence number.
func (r *Room) NextChatSequence() uint64 {
	r.chatSeq++
	return r.chatSeq
}

func (r *Room) indexOf(userID string) int {
	for i, m := range r.members {
		if m.identity.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) snapshot(now time.Time) domain.RoomSnapshot {
	return domain.RoomSnapshot{
		RoomID:             r.id,
		Members:            r.Members(),
		HostID:             r.hostID,
		PlaybackState:      r.timeline.State(),
		MediaRef:           r.timeline.MediaRef(),
		DurationSeconds:    r.timeline.Duration(),
		AllowMemberControl: r.allowMemberControl,
		ServerTime:         now.UnixMilli(),
	}
}

func (r *Room) membership() domain.MembershipChange {
	return domain.MembershipChange{RoomID: r.id, Members: r.Members(), HostID: r.hostID}
}
