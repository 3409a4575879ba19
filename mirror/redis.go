// Package mirror publishes presence and room ownership to Redis so that
// routers and other instances can observe this process. The core never
// reads the mirror back.
package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"castly-sync-server/domain"
)

const (
	OnlineKey       = "castly:online"
	RoomsKey        = "castly:rooms"
	PresenceChannel = "castly:presence"

	queueSize = 1024
	opTimeout = 2 * time.Second
)

type opKind int

const (
	opOnline opKind = iota
	opOffline
	opRoomOpened
	opRoomClosed
)

type op struct {
	kind     opKind
	id       string
	userData json.RawMessage
}

// Redis queues changes and applies them from its own goroutine, so callers
// on the hub loop never wait on the network.
type Redis struct {
	rdb      *redis.Client
	instance string
	queue    chan op
}

func NewRedis(rdb *redis.Client, instanceID string) *Redis {
	return &Redis{
		rdb:      rdb,
		instance: instanceID,
		queue:    make(chan op, queueSize),
	}
}

func (m *Redis) Online(id domain.Identity) {
	m.enqueue(op{kind: opOnline, id: id.UserID, userData: id.UserData})
}

func (m *Redis) Offline(userID string)    { m.enqueue(op{kind: opOffline, id: userID}) }
func (m *Redis) RoomOpened(roomID string) { m.enqueue(op{kind: opRoomOpened, id: roomID}) }
func (m *Redis) RoomClosed(roomID string) { m.enqueue(op{kind: opRoomClosed, id: roomID}) }

func (m *Redis) enqueue(o op) {
	select {
	case m.queue <- o:
	default:
		slog.Warn("mirror queue full, dropping update", "id", o.id)
	}
}

// Run applies queued changes until ctx is cancelled.
func (m *Redis) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-m.queue:
			if err := m.apply(ctx, o); err != nil {
				slog.Warn("mirror update failed", "id", o.id, "error", err)
			}
		}
	}
}

func (m *Redis) apply(ctx context.Context, o op) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch o.kind {
	case opOnline:
		return m.presence(ctx, o.id, true, o.userData)
	case opOffline:
		return m.presence(ctx, o.id, false, nil)
	case opRoomOpened:
		owner, err := m.rdb.HGet(ctx, RoomsKey, o.id).Result()
		if err == nil && owner != m.instance {
			slog.Warn("room already owned by another instance", "roomId", o.id, "owner", owner)
		}
		return m.rdb.HSet(ctx, RoomsKey, o.id, m.instance).Err()
	case opRoomClosed:
		return m.rdb.HDel(ctx, RoomsKey, o.id).Err()
	}
	return nil
}

func (m *Redis) presence(ctx context.Context, userID string, online bool, userData json.RawMessage) error {
	msg, err := json.Marshal(struct {
		domain.PresenceUpdate
		Instance string `json:"instance"`
	}{domain.PresenceUpdate{UserID: userID, Online: online, UserData: userData}, m.instance})
	if err != nil {
		return err
	}

	pipe := m.rdb.TxPipeline()
	if online {
		pipe.SAdd(ctx, OnlineKey, userID)
	} else {
		pipe.SRem(ctx, OnlineKey, userID)
	}
	pipe.Publish(ctx, PresenceChannel, string(msg))
	_, err = pipe.Exec(ctx)
	return err
}
