package models

// PushEventType enumerates the out-of-band events delivered over the
// persistent socket.
type PushEventType string

const (
	EventNewMessage        PushEventType = "new_message"
	EventMessageEdited     PushEventType = "message_edited"
	EventMessageDeleted    PushEventType = "message_deleted"
	EventReactionAdded     PushEventType = "reaction_added"
	EventReactionRemoved   PushEventType = "reaction_removed"
	EventMessageStatus     PushEventType = "message_status"
	EventMessagesDelivered PushEventType = "messages_delivered"
	EventMessagesRead      PushEventType = "messages_read"
	EventTyping            PushEventType = "typing"
)

// PushEvent is the JSON envelope published per conversation subject. Only
// the fields relevant to a given Type are populated; bulk receipt events
// (messages_delivered/messages_read) carry no message ids at all.
type PushEvent struct {
	Type           PushEventType `json:"type"`
	ConversationID string        `json:"conversation_id"`
	Message        *Message      `json:"message,omitempty"`
	MessageID      string        `json:"message_id,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	Emoji          string        `json:"emoji,omitempty"`
	Content        string        `json:"content,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
}
