package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castly-sync-server/clock"
	"castly-sync-server/domain"
	"castly-sync-server/hub"
	"castly-sync-server/protocol"
)

func startServer(t *testing.T, origins []string) (*hub.Hub, string) {
	t.Helper()
	h := hub.New(clock.System(), hub.Options{GracePeriod: time.Minute}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(Handler(NewUpgrader(origins), h, protocol.NewHandler(h), 0))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func write(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

// next reads frames until one of the given type arrives.
func next(t *testing.T, ws *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == event {
			return env.Payload
		}
	}
}

func TestConn_EndToEnd(t *testing.T) {
	_, url := startServer(t, []string{"*"})
	alice := dial(t, url)
	bob := dial(t, url)

	write(t, alice, domain.EventIdentify, protocol.IdentifyPayload{UserID: "alice"})
	next(t, alice, domain.EventIdentified)
	write(t, bob, domain.EventIdentify, protocol.IdentifyPayload{UserID: "bob"})
	next(t, bob, domain.EventIdentified)

	write(t, alice, domain.EventRoomJoin, protocol.RoomPayload{RoomID: "movie-night"})
	next(t, alice, domain.EventRoomSnapshot)
	write(t, bob, domain.EventRoomJoin, protocol.RoomPayload{RoomID: "movie-night"})
	next(t, bob, domain.EventRoomSnapshot)

	write(t, bob, domain.EventChatSend, protocol.ChatSendPayload{RoomID: "movie-night", Text: "popcorn?"})
	var msg domain.ChatMessage
	require.NoError(t, json.Unmarshal(next(t, alice, domain.EventChatMessage), &msg))
	assert.Equal(t, "bob", msg.AuthorID)
	assert.Equal(t, "popcorn?", msg.Text)
	assert.Equal(t, uint64(1), msg.Sequence)
}

func TestConn_MalformedFrame(t *testing.T) {
	_, url := startServer(t, []string{"*"})
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{")))
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(next(t, ws, domain.EventError), &p))
	assert.Equal(t, "validation", p.Code)

	write(t, ws, domain.EventPing, protocol.PingPayload{Timestamp: 7})
	var pong protocol.PongPayload
	require.NoError(t, json.Unmarshal(next(t, ws, domain.EventPong), &pong))
	assert.Equal(t, int64(7), pong.Timestamp, "the connection survives a bad frame")
}

func TestConn_DisconnectUnregisters(t *testing.T) {
	h, url := startServer(t, []string{"*"})
	ws := dial(t, url)
	write(t, ws, domain.EventIdentify, protocol.IdentifyPayload{UserID: "alice"})
	next(t, ws, domain.EventIdentified)
	require.Equal(t, 1, h.Stats().Connections)

	ws.Close()
	assert.Eventually(t, func() bool { return h.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.Stats().Online, "identity stays online during the grace period")
}

func TestUpgrader_Origins(t *testing.T) {
	_, url := startServer(t, []string{"http://localhost:3000"})

	header := http.Header{}
	header.Set("Origin", "http://localhost:3000")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	ws.Close()

	header.Set("Origin", "http://evil.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
