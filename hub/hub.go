package hub

import (
	"context"
	"log/slog"
	"time"

	"castly-sync-server/chat"
	"castly-sync-server/clock"
	"castly-sync-server/domain"
	"castly-sync-server/lifecycle"
	"castly-sync-server/playback"
	"castly-sync-server/presence"
	"castly-sync-server/protocol"
	"castly-sync-server/room"
	"castly-sync-server/signaling"
)

// Mirror receives presence and room lifecycle changes for observers outside
// the process. Implementations must not block.
type Mirror interface {
	Online(id domain.Identity)
	Offline(userID string)
	RoomOpened(roomID string)
	RoomClosed(roomID string)
}

type Options struct {
	GracePeriod      time.Duration
	DriftThreshold   float64
	ChatMaxLength    int
	MaxRoomMembers   int
	SignalMaxPayload int
}

type Stats struct {
	Rooms       int
	Online      int
	Connections int
	Uptime      time.Duration
}

// Hub owns all room and presence state. Every mutation runs as a task on
// the goroutine executing Run, so handlers never interleave.
type Hub struct {
	clock   clock.Clock
	started time.Time
	tasks   chan func()
	stopped chan struct{}

	conns    *lifecycle.Manager
	presence *presence.Tracker
	rooms    *room.Manager
	playback *playback.Engine
	chat     *chat.Relay
	signals  *signaling.Relay
	mirror   Mirror
}

func New(c clock.Clock, opts Options, mirror Mirror) *Hub {
	if mirror == nil {
		mirror = nopMirror{}
	}
	h := &Hub{
		clock:    c,
		started:  c.Now(),
		tasks:    make(chan func()),
		stopped:  make(chan struct{}),
		presence: presence.New(),
		rooms:    room.NewManager(c, opts.MaxRoomMembers),
		playback: playback.NewEngine(c, opts.DriftThreshold),
		chat:     chat.NewRelay(c, opts.ChatMaxLength),
		mirror:   mirror,
	}
	h.signals = signaling.NewRelay(h.rooms, opts.SignalMaxPayload)
	h.conns = lifecycle.New(loopClock{Clock: c, hub: h}, opts.GracePeriod, h.expire)
	return h
}

// Run executes tasks until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case task := <-h.tasks:
			h.safely(task)
		case <-ctx.Done():
			for _, c := range h.conns.All() {
				_ = c.Close()
			}
			slog.Info("hub stopped")
			return
		}
	}
}

func (h *Hub) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panic", "panic", r)
		}
	}()
	task()
}

// do runs fn on the loop and waits for it. It reports false once the hub
// has stopped.
func (h *Hub) do(fn func()) bool {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case h.tasks <- task:
	case <-h.stopped:
		return false
	}
	<-done
	return true
}

// exec runs one client operation. Failures, including panics, reject that
// operation alone.
func (h *Hub) exec(conn domain.Connection, event, roomID string, op func() error) {
	h.do(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("handler panic", "event", event, "connId", conn.ID(), "panic", r)
				h.reject(conn, event, roomID, domain.ErrInternal)
			}
		}()
		if err := op(); err != nil {
			h.reject(conn, event, roomID, err)
		}
	})
}

func (h *Hub) reject(conn domain.Connection, event, roomID string, err error) {
	p := protocol.Rejection(event, err)
	p.RoomID = roomID
	if p.Code == string(domain.KindInternal) {
		slog.Error("operation failed", "event", event, "connId", conn.ID(), "error", err)
	} else {
		slog.Debug("operation rejected", "event", event, "connId", conn.ID(), "error", err)
	}
	protocol.RejectPayload(conn, p)
}

// Register opens a connection.
func (h *Hub) Register(conn domain.Connection) {
	h.do(func() { h.conns.Open(conn) })
}

// Unregister closes a connection; the identity's grace period starts if it
// was the last one.
func (h *Hub) Unregister(conn domain.Connection) {
	h.do(func() { h.conns.Close(conn.ID()) })
}

func (h *Hub) Stats() Stats {
	var s Stats
	h.do(func() {
		s = Stats{
			Rooms:       h.rooms.Count(),
			Online:      h.presence.Count(),
			Connections: h.conns.Count(),
			Uptime:      h.clock.Now().Sub(h.started),
		}
	})
	return s
}

// RoomSnapshot reads a room's current state.
func (h *Hub) RoomSnapshot(roomID string) (domain.RoomSnapshot, bool) {
	var (
		snap domain.RoomSnapshot
		ok   bool
	)
	h.do(func() { snap, ok = h.rooms.Snapshot(roomID) })
	return snap, ok
}

// expire runs on the loop when an identity's grace period ends.
func (h *Hub) expire(userID string) {
	for _, res := range h.rooms.RemoveEverywhere(userID) {
		h.applyLeave(res)
	}
	if note, changed := h.presence.MarkOffline(userID); changed {
		h.dispatch(note)
		h.observe(func(m Mirror) { m.Offline(userID) })
	}
}

func (h *Hub) applyLeave(res room.LeaveResult) {
	h.dispatch(res.Notifications...)
	if res.Destroyed {
		h.observe(func(m Mirror) { m.RoomClosed(res.RoomID) })
	}
}

// observe forwards a settled change to the mirror. A failing mirror is
// logged and never rejects or rolls back the operation that caused it.
func (h *Hub) observe(fn func(m Mirror)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mirror panic", "panic", r)
		}
	}()
	fn(h.mirror)
}

func (h *Hub) identity(conn domain.Connection) (domain.Identity, error) {
	id, ok := h.conns.Identity(conn.ID())
	if !ok {
		return domain.Identity{}, domain.Authorizationf("identify before sending commands")
	}
	return id, nil
}

func (h *Hub) dispatch(notes ...domain.Notification) {
	for _, n := range notes {
		targets := n.Targets()
		if len(targets) == 0 {
			continue
		}
		data, err := protocol.Encode(n.Event, n.Payload)
		if err != nil {
			slog.Error("encode notification", "event", n.Event, "error", err)
			continue
		}
		for _, userID := range targets {
			conns := h.conns.Connections(userID)
			if len(conns) == 0 {
				slog.Debug("no live connection", "event", n.Event, "userId", userID)
			}
			for _, c := range conns {
				h.send(c, data)
			}
		}
	}
}

func (h *Hub) reply(conn domain.Connection, event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("encode reply", "event", event, "error", err)
		return
	}
	h.send(conn, data)
}

func (h *Hub) replyUser(userID, event string, payload any) {
	h.dispatch(domain.Fanout(event, payload, []string{userID}))
}

func (h *Hub) send(c domain.Connection, data []byte) {
	if err := c.Send(data); err != nil {
		slog.Warn("send failed, closing connection", "connId", c.ID(), "error", err)
		_ = c.Close()
	}
}

// loopClock delivers timer callbacks onto the hub loop.
type loopClock struct {
	clock.Clock
	hub *Hub
}

func (c loopClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.Clock.AfterFunc(d, func() { c.hub.do(f) })
}

type nopMirror struct{}

func (nopMirror) Online(domain.Identity) {}
func (nopMirror) Offline(string)         {}
func (nopMirror) RoomOpened(string)      {}
func (nopMirror) RoomClosed(string)      {}
