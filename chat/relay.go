package chat

import (
	"crypto/rand"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"castly-sync-server/clock"
	"castly-sync-server/domain"
)

const DefaultMaxLength = 2000

// Room is the view of a room the relay needs to order and address messages.
type Room interface {
	ID() string
	IsMember(userID string) bool
	MemberIDs() []string
	NextChatSequence() uint64
}

// Relay stamps and fans out chat messages. Nothing is stored after the
// broadcast. Not safe for concurrent use.
type Relay struct {
	clock     clock.Clock
	maxLength int
	entropy   io.Reader
}

func NewRelay(c clock.Clock, maxLength int) *Relay {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Relay{
		clock:     c,
		maxLength: maxLength,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Send assigns the next room sequence to text and addresses it to every
// member, the author included.
func (r *Relay) Send(room Room, userID, text string) (domain.ChatMessage, domain.Notification, error) {
	if !room.IsMember(userID) {
		return domain.ChatMessage{}, domain.Notification{}, domain.NotFoundf("%s is not a member of room %s", userID, room.ID())
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.Notification{}, domain.Validationf("empty message")
	}
	if !utf8.ValidString(text) {
		return domain.ChatMessage{}, domain.Notification{}, domain.Validationf("message is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > r.maxLength {
		return domain.ChatMessage{}, domain.Notification{}, domain.Validationf("message has %d characters, limit is %d", n, r.maxLength)
	}

	now := r.clock.Now()
	msg := domain.ChatMessage{
		ID:       ulid.MustNew(ulid.Timestamp(now), r.entropy).String(),
		AuthorID: userID,
		RoomID:   room.ID(),
		Text:     text,
		SentAt:   now.UnixMilli(),
		Sequence: room.NextChatSequence(),
	}
	return msg, domain.Fanout(domain.EventChatMessage, msg, room.MemberIDs()), nil
}
