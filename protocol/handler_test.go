package protocol

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castly-sync-server/domain"
)

type mockConn struct {
	id   string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) getSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

type call struct {
	method string
	args   []any
}

type mockService struct {
	calls []call
	mu    sync.Mutex
}

func (m *mockService) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{method: method, args: args})
}

func (m *mockService) getCalls() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockService) Identify(c domain.Connection, id domain.Identity) {
	m.record("Identify", id.UserID, string(id.UserData))
}
func (m *mockService) Join(c domain.Connection, roomID string)  { m.record("Join", roomID) }
func (m *mockService) Leave(c domain.Connection, roomID string) { m.record("Leave", roomID) }
func (m *mockService) TransferHost(c domain.Connection, roomID, newHostID string) {
	m.record("TransferHost", roomID, newHostID)
}
func (m *mockService) Configure(c domain.Connection, roomID string, allow bool) {
	m.record("Configure", roomID, allow)
}
func (m *mockService) Playback(c domain.Connection, roomID string, cmd domain.PlaybackCommand) {
	m.record("Playback", roomID, cmd)
}
func (m *mockService) Report(c domain.Connection, roomID string, position float64) {
	m.record("Report", roomID, position)
}
func (m *mockService) Chat(c domain.Connection, roomID, text string) { m.record("Chat", roomID, text) }
func (m *mockService) Signal(c domain.Connection, env domain.SignalingEnvelope) {
	m.record("Signal", env)
}
func (m *mockService) Ping(c domain.Connection, ts int64) { m.record("Ping", ts) }

func decodeError(t *testing.T, data []byte) ErrorPayload {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, domain.EventError, env.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func TestHandler_Routes(t *testing.T) {
	pos := 42.5
	tests := []struct {
		name  string
		frame string
		want  call
	}{
		{
			name:  "identify",
			frame: `{"type":"identify","payload":{"userId":"alice","userData":{"name":"Alice"}}}`,
			want:  call{"Identify", []any{"alice", `{"name":"Alice"}`}},
		},
		{
			name:  "join",
			frame: `{"type":"room:join","payload":{"roomId":"R1"}}`,
			want:  call{"Join", []any{"R1"}},
		},
		{
			name:  "leave",
			frame: `{"type":"room:leave","payload":{"roomId":"R1"}}`,
			want:  call{"Leave", []any{"R1"}},
		},
		{
			name:  "transfer host",
			frame: `{"type":"room:transfer-host","payload":{"roomId":"R1","newHostId":"bob"}}`,
			want:  call{"TransferHost", []any{"R1", "bob"}},
		},
		{
			name:  "configure",
			frame: `{"type":"room:configure","payload":{"roomId":"R1","allowMemberControl":true}}`,
			want:  call{"Configure", []any{"R1", true}},
		},
		{
			name:  "playback command",
			frame: `{"type":"playback:command","payload":{"roomId":"R1","command":"pause","positionSeconds":42.5,"revision":3}}`,
			want: call{"Playback", []any{"R1", domain.PlaybackCommand{
				Action: domain.ActionPause, Position: &pos, Revision: 3,
			}}},
		},
		{
			name:  "report",
			frame: `{"type":"playback:report","payload":{"roomId":"R1","positionSeconds":12}}`,
			want:  call{"Report", []any{"R1", 12.0}},
		},
		{
			name:  "chat",
			frame: `{"type":"chat:send","payload":{"roomId":"R1","text":"hi"}}`,
			want:  call{"Chat", []any{"R1", "hi"}},
		},
		{
			name:  "signal",
			frame: `{"type":"signal","payload":{"toId":"bob","kind":"offer","payload":{"sdp":"x"}}}`,
			want: call{"Signal", []any{domain.SignalingEnvelope{
				ToID: "bob", Kind: domain.SignalOffer, Payload: json.RawMessage(`{"sdp":"x"}`),
			}}},
		},
		{
			name:  "ping",
			frame: `{"type":"ping","payload":{"timestamp":12345}}`,
			want:  call{"Ping", []any{int64(12345)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockService{}
			conn := &mockConn{id: "client1"}

			NewHandler(service).Handle(conn, []byte(tt.frame))

			calls := service.getCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0])
			assert.Empty(t, conn.getSent())
		})
	}
}

func TestHandler_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantEvent string
	}{
		{"invalid json", "not json", ""},
		{"unknown event", `{"type":"dance","payload":{}}`, "dance"},
		{"missing payload", `{"type":"room:join"}`, domain.EventRoomJoin},
		{"wrong payload shape", `{"type":"chat:send","payload":{"roomId":7}}`, domain.EventChatSend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockService{}
			conn := &mockConn{id: "client1"}

			NewHandler(service).Handle(conn, []byte(tt.frame))

			assert.Empty(t, service.getCalls())
			sent := conn.getSent()
			require.Len(t, sent, 1)
			p := decodeError(t, sent[0])
			assert.Equal(t, string(domain.KindValidation), p.Code)
			assert.Equal(t, tt.wantEvent, p.Event)
		})
	}
}

func TestRejection(t *testing.T) {
	state := domain.PlaybackState{Status: domain.StatusPlaying, Revision: 4}

	stale := Rejection(domain.EventPlaybackCommand, &domain.StaleRevisionError{
		Issued: 3, Current: state, LivePosition: 7.5, ServerTime: 123_000,
	})
	assert.Equal(t, string(domain.KindStaleRevision), stale.Code)
	require.NotNil(t, stale.State)
	assert.Equal(t, uint64(4), stale.State.Revision)
	require.NotNil(t, stale.LivePositionSeconds)
	assert.Equal(t, 7.5, *stale.LivePositionSeconds)
	assert.Equal(t, int64(123_000), stale.ServerTime)

	auth := Rejection(domain.EventRoomTransfer, domain.Authorizationf("only the host"))
	assert.Equal(t, "authorization", auth.Code)
	assert.Equal(t, "only the host", auth.Message)
	assert.Nil(t, auth.State)
	assert.Nil(t, auth.LivePositionSeconds)

	internal := Rejection(domain.EventChatSend, assert.AnError)
	assert.Equal(t, "internal", internal.Code)
	assert.Equal(t, "internal error", internal.Message, "internal details never leak")
}
