package domain

import "encoding/json"

// Inbound event types.
const (
	EventIdentify        = "identify"
	EventRoomJoin        = "room:join"
	EventRoomLeave       = "room:leave"
	EventRoomTransfer    = "room:transfer-host"
	EventRoomConfigure   = "room:configure"
	EventPlaybackCommand = "playback:command"
	EventPlaybackReport  = "playback:report"
	EventChatSend        = "chat:send"
	EventSignal          = "signal"
	EventPing            = "ping"
)

// Outbound event types.
const (
	EventIdentified       = "identified"
	EventPresenceSnapshot = "presence:snapshot"
	EventPresenceUpdate   = "presence:update"
	EventRoomSnapshot     = "room:snapshot"
	EventRoomMembership   = "room:membership-changed"
	EventRoomSettings     = "room:settings"
	EventRoomLeft         = "room:left"
	EventPlaybackState    = "playback:state"
	EventPlaybackSync     = "playback:sync"
	EventChatMessage      = "chat:message"
	EventError            = "error"
	EventPong             = "pong"
)

type PresenceUpdate struct {
	UserID   string          `json:"userId"`
	Online   bool            `json:"online"`
	UserData json.RawMessage `json:"userData,omitempty"`
}

type MembershipChange struct {
	RoomID  string     `json:"roomId"`
	Members []Identity `json:"members"`
	HostID  string     `json:"hostId"`
}

type RoomSnapshot struct {
	RoomID             string        `json:"roomId"`
	Members            []Identity    `json:"members"`
	HostID             string        `json:"hostId"`
	PlaybackState      PlaybackState `json:"playbackState"`
	MediaRef           string        `json:"mediaRef,omitempty"`
	DurationSeconds    float64       `json:"durationSeconds,omitempty"`
	AllowMemberControl bool          `json:"allowMemberControl"`
	ServerTime         int64         `json:"serverTime"`
}

type RoomSettings struct {
	RoomID             string `json:"roomId"`
	AllowMemberControl bool   `json:"allowMemberControl"`
}

type PlaybackUpdate struct {
	RoomID          string        `json:"roomId"`
	State           PlaybackState `json:"state"`
	MediaRef        string        `json:"mediaRef,omitempty"`
	DurationSeconds float64       `json:"durationSeconds,omitempty"`
	IssuedBy        string        `json:"issuedBy,omitempty"`
}

// PlaybackCorrection nudges a single drifting client back to the
// authoritative position without changing the room revision.
type PlaybackCorrection struct {
	RoomID                string        `json:"roomId"`
	State                 PlaybackState `json:"state"`
	MediaRef              string        `json:"mediaRef,omitempty"`
	TargetPositionSeconds float64       `json:"targetPositionSeconds"`
	ServerTime            int64         `json:"serverTime"`
}
