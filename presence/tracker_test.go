package presence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castly-sync-server/domain"
)

func identity(id, data string) domain.Identity {
	return domain.Identity{UserID: id, UserData: json.RawMessage(data)}
}

func TestTracker_MarkOnline(t *testing.T) {
	tr := New()

	n, changed := tr.MarkOnline(identity("alice", `{"name":"Alice"}`))
	require.True(t, changed)
	assert.Equal(t, domain.EventPresenceUpdate, n.Event)
	assert.Equal(t, []string{"alice"}, n.Targets())

	n, changed = tr.MarkOnline(identity("bob", `{}`))
	require.True(t, changed)
	assert.Equal(t, []string{"alice", "bob"}, n.Targets())
	update := n.Payload.(domain.PresenceUpdate)
	assert.Equal(t, "bob", update.UserID)
	assert.True(t, update.Online)

	_, changed = tr.MarkOnline(identity("alice", `{"name":"Alice"}`))
	assert.False(t, changed, "identical re-identification is not a change")

	_, changed = tr.MarkOnline(identity("alice", `{"name":"Al"}`))
	assert.True(t, changed, "new userData is broadcast")

	assert.Equal(t, 2, tr.Count(), "an identity appears at most once")
}

func TestTracker_MarkOffline(t *testing.T) {
	tr := New()
	tr.MarkOnline(identity("alice", ""))
	tr.MarkOnline(identity("bob", ""))

	n, changed := tr.MarkOffline("alice")
	require.True(t, changed)
	assert.Equal(t, []string{"bob"}, n.Targets())
	assert.False(t, n.Payload.(domain.PresenceUpdate).Online)
	assert.False(t, tr.IsOnline("alice"))

	_, changed = tr.MarkOffline("alice")
	assert.False(t, changed)
}

func TestTracker_Snapshot(t *testing.T) {
	tr := New()
	tr.MarkOnline(identity("carol", ""))
	tr.MarkOnline(identity("alice", ""))
	tr.MarkOnline(identity("bob", ""))

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alice", snap[0].UserID)
	assert.Equal(t, "bob", snap[1].UserID)
	assert.Equal(t, "carol", snap[2].UserID)
}
