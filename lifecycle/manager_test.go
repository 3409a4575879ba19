package lifecycle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castly-sync-server/clock"
	"castly-sync-server/domain"
)

type mockConn struct{ id string }

func (m *mockConn) ID() string             { return m.id }
func (m *mockConn) Send(data []byte) error { return nil }
func (m *mockConn) Close() error           { return nil }

type harness struct {
	m       *Manager
	clock   *clock.Fake
	expired []string
}

func newHarness(grace time.Duration) *harness {
	h := &harness{clock: clock.NewFake(time.Unix(0, 0))}
	h.m = New(h.clock, grace, func(userID string) { h.expired = append(h.expired, userID) })
	return h
}

func (h *harness) open(t *testing.T, connID, userID string) {
	t.Helper()
	h.m.Open(&mockConn{id: connID})
	_, err := h.m.Identify(connID, domain.Identity{UserID: userID})
	require.NoError(t, err)
}

func TestManager_Identify(t *testing.T) {
	h := newHarness(time.Second)
	h.m.Open(&mockConn{id: "c1"})

	res, err := h.m.Identify("c1", domain.Identity{UserID: " alice ", UserData: json.RawMessage(`{"name":"Alice"}`)})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Identity.UserID)
	assert.False(t, res.Repeat)

	res, err = h.m.Identify("c1", domain.Identity{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Repeat, "same identity is idempotent")

	_, err = h.m.Identify("c1", domain.Identity{UserID: "bob"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	id, ok := h.m.Identity("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", id.UserID)
	assert.Len(t, h.m.Connections("alice"), 1)
}

func TestManager_IdentifyRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		id   domain.Identity
	}{
		{"empty user", domain.Identity{UserID: "  "}},
		{"long user", domain.Identity{UserID: string(make([]byte, maxUserIDLength+1))}},
		{"bad json", domain.Identity{UserID: "a", UserData: json.RawMessage(`{nope`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(time.Second)
			h.m.Open(&mockConn{id: "c1"})
			_, err := h.m.Identify("c1", tt.id)
			assert.ErrorIs(t, err, domain.ErrValidation)
			_, ok := h.m.Identity("c1")
			assert.False(t, ok)
		})
	}

	h := newHarness(time.Second)
	_, err := h.m.Identify("missing", domain.Identity{UserID: "a"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_GraceExpiry(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.open(t, "c1", "alice")

	res := h.m.Close("c1")
	assert.True(t, res.GraceStarted)
	assert.True(t, h.m.InGrace("alice"))

	h.clock.Advance(4 * time.Second)
	assert.Empty(t, h.expired)

	h.clock.Advance(time.Second)
	assert.Equal(t, []string{"alice"}, h.expired)
	assert.False(t, h.m.InGrace("alice"))
}

func TestManager_ReconnectWithinGrace(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.open(t, "c1", "alice")
	h.m.Close("c1")
	h.clock.Advance(3 * time.Second)

	h.m.Open(&mockConn{id: "c2"})
	res, err := h.m.Identify("c2", domain.Identity{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Resumed)

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.expired, "cancelled grace timer never fires")
	assert.Equal(t, 0, h.clock.Pending())
}

func TestManager_StaleTimerIgnored(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.open(t, "c1", "alice")
	h.m.Close("c1")

	g := h.m.pending["alice"]
	h.open(t, "c2", "alice")
	h.m.fire("alice", g.token)

	assert.Empty(t, h.expired)
}

func TestManager_MultipleConnections(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.open(t, "c1", "alice")
	h.open(t, "c2", "alice")

	res := h.m.Close("c1")
	assert.False(t, res.GraceStarted, "another connection is still live")
	assert.Len(t, h.m.Connections("alice"), 1)

	res = h.m.Close("c2")
	assert.True(t, res.GraceStarted)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"alice"}, h.expired)
}

func TestManager_ZeroGraceExpiresImmediately(t *testing.T) {
	h := newHarness(0)
	h.open(t, "c1", "alice")

	res := h.m.Close("c1")
	assert.False(t, res.GraceStarted)
	assert.Equal(t, []string{"alice"}, h.expired)
}

func TestManager_CloseUnidentified(t *testing.T) {
	h := newHarness(time.Second)
	h.m.Open(&mockConn{id: "c1"})
	assert.Equal(t, 1, h.m.Count())

	res := h.m.Close("c1")
	assert.Empty(t, res.UserID)
	assert.Equal(t, 0, h.m.Count())
	assert.Equal(t, CloseResult{}, h.m.Close("c1"))
}
