// Package models defines the conversation timeline types shared by the
// engine's layers: messages, reactions, push events, and pages.
package models

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/chatline/internal/common"
	"github.com/dmitrijs2005/chatline/internal/cryptox"
	"github.com/google/uuid"
)

// MessageType classifies a message kind.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeVoice  MessageType = "voice"
	MessageTypePoll   MessageType = "poll"
	MessageTypeSystem MessageType = "system"
)

// MessageStatus tracks delivery progress of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"

	// StatusFailed marks a temporary entry whose network call failed; it
	// stays in the timeline so the user can retry.
	StatusFailed MessageStatus = "failed"
)

// Reaction is a single user's emoji on a message. Temp marks an optimistic
// reaction that the server has not confirmed yet.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
	Temp   bool   `json:"-"`
}

// Message is the core timeline entity. Content holds plaintext once the
// decryption pipeline has processed the message; before that, Encrypted is
// true and Content carries the wire envelope.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	Status         MessageStatus  `json:"status"`
	SequenceNumber int64          `json:"sequence_number"` // 0 means absent
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
	IsEdited       bool           `json:"is_edited,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	ReplyToID      string         `json:"reply_to_id,omitempty"`
	Reactions      []Reaction     `json:"reactions,omitempty"`
	Encrypted      bool           `json:"encrypted,omitempty"`
	Scheme         cryptox.Scheme `json:"scheme,omitempty"`
}

// NewTempID generates a locally unique id for an optimistic message.
func NewTempID() string {
	return common.TempIDPrefix + uuid.NewString()
}

// IsTemp reports whether id was generated locally and not yet confirmed.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, common.TempIDPrefix)
}

// Less defines the timeline's total order: sequence number ascending when
// both sides carry one, creation time as the fallback key. Sequence numbers
// are authoritative only when present on both sides of the comparison.
func (m Message) Less(other Message) bool {
	if m.SequenceNumber != 0 && other.SequenceNumber != 0 {
		if m.SequenceNumber != other.SequenceNumber {
			return m.SequenceNumber < other.SequenceNumber
		}
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Deleted reports whether the message is a tombstone.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// HasReaction reports whether userID already reacted with emoji, regardless
// of whether the reaction is optimistic or confirmed.
func (m Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, detaching reaction and timestamp storage so
// snapshots are immune to later in-place patches.
func (m Message) Clone() Message {
	c := m
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	if m.Reactions != nil {
		c.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return c
}
