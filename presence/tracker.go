package presence

import (
	"bytes"
	"sort"

	"castly-sync-server/domain"
)

// Tracker is the process-wide view of online identities. Every online
// identity is a presence subscriber, so updates fan out to all of them.
// It is not safe for concurrent use; the hub serializes access.
type Tracker struct {
	online map[string]domain.Identity
}

func New() *Tracker {
	return &Tracker{online: make(map[string]domain.Identity)}
}

// MarkOnline adds or refreshes an identity. It reports false when the
// identity was already online with identical userData.
func (t *Tracker) MarkOnline(id domain.Identity) (domain.Notification, bool) {
	prev, exists := t.online[id.UserID]
	if exists && bytes.Equal(prev.UserData, id.UserData) {
		return domain.Notification{}, false
	}
	t.online[id.UserID] = id

	update := domain.PresenceUpdate{UserID: id.UserID, Online: true, UserData: id.UserData}
	return domain.Fanout(domain.EventPresenceUpdate, update, t.ids()), true
}

// MarkOffline removes an identity and notifies the remaining subscribers.
func (t *Tracker) MarkOffline(userID string) (domain.Notification, bool) {
	if _, exists := t.online[userID]; !exists {
		return domain.Notification{}, false
	}
	delete(t.online, userID)

	update := domain.PresenceUpdate{UserID: userID, Online: false}
	return domain.Fanout(domain.EventPresenceUpdate, update, t.ids()), true
}

func (t *Tracker) IsOnline(userID string) bool {
	_, ok := t.online[userID]
	return ok
}

// Snapshot returns the online set ordered by user ID.
func (t *Tracker) Snapshot() []domain.Identity {
	out := make([]domain.Identity, 0, len(t.online))
	for _, id := range t.online {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *Tracker) Count() int {
	return len(t.online)
}

func (t *Tracker) ids() []string {
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
