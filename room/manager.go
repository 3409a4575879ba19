package room

import (
	"bytes"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"castly-sync-server/clock"
	"castly-sync-server/domain"
	"castly-sync-server/playback"
)

const maxRoomIDLength = 128

// JoinResult is what a joining identity needs for its initial sync.
type JoinResult struct {
	Snapshot      domain.RoomSnapshot
	Created       bool
	Rejoined      bool
	Notifications []domain.Notification
}

// LeaveResult describes the effect of a departure.
type LeaveResult struct {
	RoomID        string
	Destroyed     bool
	Notifications []domain.Notification
}

// Manager owns the room table. It is not safe for concurrent use; the hub
// applies every mutation from a single goroutine.
type Manager struct {
	clock      clock.Clock
	maxMembers int
	rooms      map[string]*Room
	byUser     map[string]map[string]struct{}
	joinSeq    uint64
}

func NewManager(c clock.Clock, maxMembers int) *Manager {
	return &Manager{
		clock:      c,
		maxMembers: maxMembers,
		rooms:      make(map[string]*Room),
		byUser:     make(map[string]map[string]struct{}),
	}
}

// CreateOrJoin attaches id to roomID, creating the room with id as host
// when it does not exist. An empty roomID creates a room with a generated
// ID. Joining a room the identity already belongs to keeps its role.
func (m *Manager) CreateOrJoin(roomID string, id domain.Identity) (JoinResult, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		roomID = uuid.NewString()
	}
	if len(roomID) > maxRoomIDLength {
		return JoinResult{}, domain.Validationf("room id longer than %d characters", maxRoomIDLength)
	}
	if id.UserID == "" {
		return JoinResult{}, domain.Validationf("missing user id")
	}

	now := m.clock.Now()
	r, exists := m.rooms[roomID]
	if !exists {
		r = &Room{
			id:       roomID,
			hostID:   id.UserID,
			timeline: playback.NewTimeline(now),
		}
		m.rooms[roomID] = r
		m.attach(r, id, now)
		slog.Info("room created", "roomId", roomID, "hostId", id.UserID)
		return JoinResult{Snapshot: r.snapshot(now), Created: true}, nil
	}

	if i := r.indexOf(id.UserID); i >= 0 {
		r.members[i].identity = id
		return JoinResult{Snapshot: r.snapshot(now), Rejoined: true}, nil
	}

	if m.maxMembers > 0 && len(r.members) >= m.maxMembers {
		return JoinResult{}, domain.Validationf("room %s is full", roomID)
	}

	m.attach(r, id, now)
	slog.Info("room joined", "roomId", roomID, "userId", id.UserID, "members", len(r.members))
	note := domain.Fanout(domain.EventRoomMembership, r.membership(), r.MemberIDs(), id.UserID)
	return JoinResult{Snapshot: r.snapshot(now), Notifications: []domain.Notification{note}}, nil
}

// Leave removes userID from roomID, reassigning the host to the earliest
// remaining member and destroying the room once it is empty.
func (m *Manager) Leave(roomID, userID string) (LeaveResult, error) {
	r, ok := m.rooms[roomID]
	if !ok {
		return LeaveResult{}, domain.NotFoundf("room %s not found", roomID)
	}
	i := r.indexOf(userID)
	if i < 0 {
		return LeaveResult{}, domain.NotFoundf("%s is not a member of room %s", userID, roomID)
	}

	r.members = append(r.members[:i], r.members[i+1:]...)
	m.detach(roomID, userID)

	if len(r.members) == 0 {
		delete(m.rooms, roomID)
		slog.Info("room destroyed", "roomId", roomID)
		return LeaveResult{RoomID: roomID, Destroyed: true}, nil
	}

	if r.hostID == userID {
		r.hostID = r.earliest().identity.UserID
		slog.Info("host reassigned", "roomId", roomID, "from", userID, "to", r.hostID)
	}
	slog.Info("room left", "roomId", roomID, "userId", userID, "members", len(r.members))

	note := domain.Fanout(domain.EventRoomMembership, r.membership(), r.MemberIDs())
	return LeaveResult{RoomID: roomID, Notifications: []domain.Notification{note}}, nil
}

// RemoveEverywhere removes userID from every room it belongs to.
func (m *Manager) RemoveEverywhere(userID string) []LeaveResult {
	var results []LeaveResult
	for _, roomID := range m.RoomsOf(userID) {
		res, err := m.Leave(roomID, userID)
		if err != nil {
			slog.Warn("remove member", "roomId", roomID, "userId", userID, "error", err)
			continue
		}
		results = append(results, res)
	}
	return results
}

// UpdateIdentity refreshes the display data of id in every room it belongs
// to. Rooms whose copy changed notify their other members.
func (m *Manager) UpdateIdentity(id domain.Identity) []domain.Notification {
	var notes []domain.Notification
	for _, roomID := range m.RoomsOf(id.UserID) {
		r := m.rooms[roomID]
		i := r.indexOf(id.UserID)
		if i < 0 || bytes.Equal(r.members[i].identity.UserData, id.UserData) {
			continue
		}
		r.members[i].identity = id
		notes = append(notes, domain.Fanout(domain.EventRoomMembership, r.membership(), r.MemberIDs(), id.UserID))
	}
	return notes
}

// TransferHost hands the host role to another member. Only the acting host
// may do so.
func (m *Manager) TransferHost(roomID, currentHostID, newHostID string) (domain.Notification, error) {
	r, ok := m.rooms[roomID]
	if !ok {
		return domain.Notification{}, domain.NotFoundf("room %s not found", roomID)
	}
	if r.hostID != currentHostID {
		return domain.Notification{}, domain.Authorizationf("only the host can transfer the host role")
	}
	if !r.IsMember(newHostID) {
		return domain.Notification{}, domain.Authorizationf("%s is not a member of room %s", newHostID, roomID)
	}

	r.hostID = newHostID
	slog.Info("host transferred", "roomId", roomID, "from", currentHostID, "to", newHostID)
	return domain.Fanout(domain.EventRoomMembership, r.membership(), r.MemberIDs()), nil
}

// Configure toggles whether non-host members may control playback.
func (m *Manager) Configure(roomID, userID string, allowMemberControl bool) (domain.Notification, error) {
	r, ok := m.rooms[roomID]
	if !ok {
		return domain.Notification{}, domain.NotFoundf("room %s not found", roomID)
	}
	if r.hostID != userID {
		return domain.Notification{}, domain.Authorizationf("only the host can change room settings")
	}

	r.allowMemberControl = allowMemberControl
	settings := domain.RoomSettings{RoomID: roomID, AllowMemberControl: allowMemberControl}
	return domain.Fanout(domain.EventRoomSettings, settings, r.MemberIDs()), nil
}

func (m *Manager) Get(roomID string) (*Room, bool) {
	r, ok := m.rooms[roomID]
	return r, ok
}

// Snapshot returns the current sync state of a room for one of its members.
func (m *Manager) Snapshot(roomID string) (domain.RoomSnapshot, bool) {
	r, ok := m.rooms[roomID]
	if !ok {
		return domain.RoomSnapshot{}, false
	}
	return r.snapshot(m.clock.Now()), true
}

// RoomsOf lists the rooms userID belongs to, sorted.
func (m *Manager) RoomsOf(userID string) []string {
	set := m.byUser[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsMember reports whether userID belongs to roomID.
func (m *Manager) IsMember(roomID, userID string) bool {
	_, ok := m.byUser[userID][roomID]
	return ok
}

// SharesRoom reports whether a and b are members of at least one common room.
func (m *Manager) SharesRoom(a, b string) bool {
	ra, rb := m.byUser[a], m.byUser[b]
	if len(rb) < len(ra) {
		ra, rb = rb, ra
	}
	for id := range ra {
		if _, ok := rb[id]; ok {
			return true
		}
	}
	return false
}

func (m *Manager) Count() int {
	return len(m.rooms)
}

func (m *Manager) attach(r *Room, id domain.Identity, now time.Time) {
	m.joinSeq++
	r.members = append(r.members, &member{identity: id, joinedAt: now, joinSeq: m.joinSeq})
	set, ok := m.byUser[id.UserID]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[id.UserID] = set
	}
	set[r.id] = struct{}{}
}

func (m *Manager) detach(roomID, userID string) {
	set := m.byUser[userID]
	delete(set, roomID)
	if len(set) == 0 {
		delete(m.byUser, userID)
	}
}

// earliest returns the member with the earliest recorded join.
func (r *Room) earliest() *member {
	first := r.members[0]
	for _, m := range r.members[1:] {
		if m.joinedAt.Before(first.joinedAt) ||
			(m.joinedAt.Equal(first.joinedAt) && m.joinSeq < first.joinSeq) {
			first = m
		}
	}
	return first
}
