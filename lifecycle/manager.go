package lifecycle

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"castly-sync-server/clock"
	"castly-sync-server/domain"
)

const (
	DefaultGracePeriod = 5 * time.Second
	maxUserIDLength    = 128
	maxUserDataBytes   = 8 << 10
)

type binding struct {
	conn     domain.Connection
	identity domain.Identity
	bound    bool
}

type grace struct {
	timer clock.Timer
	token uint64
}

// IdentifyResult describes how an identify call changed the identity.
type IdentifyResult struct {
	Identity domain.Identity
	// Repeat is set when the connection was already bound to this identity.
	Repeat bool
	// Resumed is set when the call cancelled a pending grace period.
	Resumed bool
}

// CloseResult describes a closed connection.
type CloseResult struct {
	UserID       string
	GraceStarted bool
}

// Manager tracks live connections and the identities bound to them. When
// the last connection of an identity closes, a grace timer starts; expiry
// invokes the handler passed to New. Not safe for concurrent use: the
// clock's timer callbacks must be delivered on the same goroutine as every
// other call.
type Manager struct {
	clock    clock.Clock
	grace    time.Duration
	onExpire func(userID string)

	conns   map[string]*binding
	users   map[string]map[string]domain.Connection
	pending map[string]*grace
	tokens  uint64
}

func New(c clock.Clock, gracePeriod time.Duration, onExpire func(userID string)) *Manager {
	return &Manager{
		clock:    c,
		grace:    gracePeriod,
		onExpire: onExpire,
		conns:    make(map[string]*binding),
		users:    make(map[string]map[string]domain.Connection),
		pending:  make(map[string]*grace),
	}
}

// Open registers a new, unidentified connection.
func (m *Manager) Open(conn domain.Connection) {
	m.conns[conn.ID()] = &binding{conn: conn}
	slog.Debug("connection opened", "connId", conn.ID(), "connections", len(m.conns))
}

// Identify binds id to the connection. Calling it again with the same user
// is idempotent apart from refreshing userData.
func (m *Manager) Identify(connID string, id domain.Identity) (IdentifyResult, error) {
	b, ok := m.conns[connID]
	if !ok {
		return IdentifyResult{}, domain.NotFoundf("connection %s is not open", connID)
	}
	if err := validate(&id); err != nil {
		return IdentifyResult{}, err
	}
	if b.bound {
		if b.identity.UserID != id.UserID {
			return IdentifyResult{}, domain.Validationf("connection is already identified as %s", b.identity.UserID)
		}
		b.identity = id
		return IdentifyResult{Identity: id, Repeat: true}, nil
	}

	b.identity = id
	b.bound = true
	set, exists := m.users[id.UserID]
	if !exists {
		set = make(map[string]domain.Connection)
		m.users[id.UserID] = set
	}
	set[connID] = b.conn

	res := IdentifyResult{Identity: id}
	if g, waiting := m.pending[id.UserID]; waiting {
		g.timer.Stop()
		delete(m.pending, id.UserID)
		res.Resumed = true
		slog.Info("reconnected within grace period", "userId", id.UserID, "connId", connID)
	}
	return res, nil
}

// Close forgets a connection. When it was the identity's last connection
// the grace period starts; a zero grace period expires immediately.
func (m *Manager) Close(connID string) CloseResult {
	b, ok := m.conns[connID]
	if !ok {
		return CloseResult{}
	}
	delete(m.conns, connID)
	if !b.bound {
		return CloseResult{}
	}

	userID := b.identity.UserID
	set := m.users[userID]
	delete(set, connID)
	if len(set) > 0 {
		return CloseResult{UserID: userID}
	}
	delete(m.users, userID)

	if m.grace <= 0 {
		m.expire(userID)
		return CloseResult{UserID: userID}
	}

	m.tokens++
	token := m.tokens
	g := &grace{token: token}
	g.timer = m.clock.AfterFunc(m.grace, func() { m.fire(userID, token) })
	m.pending[userID] = g
	slog.Info("grace period started", "userId", userID, "grace", m.grace)
	return CloseResult{UserID: userID, GraceStarted: true}
}

// fire runs when a grace timer elapses. A timer that already lost a race
// with a reconnect carries a stale token and is ignored.
func (m *Manager) fire(userID string, token uint64) {
	g, ok := m.pending[userID]
	if !ok || g.token != token {
		return
	}
	delete(m.pending, userID)
	if len(m.users[userID]) > 0 {
		return
	}
	m.expire(userID)
}

func (m *Manager) expire(userID string) {
	slog.Info("identity offline", "userId", userID)
	if m.onExpire != nil {
		m.onExpire(userID)
	}
}

// Identity returns the identity bound to connID.
func (m *Manager) Identity(connID string) (domain.Identity, bool) {
	b, ok := m.conns[connID]
	if !ok || !b.bound {
		return domain.Identity{}, false
	}
	return b.identity, true
}

// Connections returns the live connections of userID ordered by ID.
func (m *Manager) Connections(userID string) []domain.Connection {
	set := m.users[userID]
	out := make([]domain.Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// InGrace reports whether userID is disconnected but still within its
// grace period.
func (m *Manager) InGrace(userID string) bool {
	_, ok := m.pending[userID]
	return ok
}

func (m *Manager) Count() int {
	return len(m.conns)
}

// All returns every open connection, identified or not.
func (m *Manager) All() []domain.Connection {
	out := make([]domain.Connection, 0, len(m.conns))
	for _, b := range m.conns {
		out = append(out, b.conn)
	}
	return out
}

func validate(id *domain.Identity) error {
	id.UserID = strings.TrimSpace(id.UserID)
	if id.UserID == "" {
		return domain.Validationf("missing userId")
	}
	if len(id.UserID) > maxUserIDLength {
		return domain.Validationf("userId longer than %d characters", maxUserIDLength)
	}
	data := bytes.TrimSpace(id.UserData)
	if len(data) == 0 {
		id.UserData = nil
		return nil
	}
	if len(data) > maxUserDataBytes {
		return domain.Validationf("userData exceeds %d bytes", maxUserDataBytes)
	}
	if !json.Valid(data) {
		return domain.Validationf("userData is not valid JSON")
	}
	id.UserData = data
	return nil
}
