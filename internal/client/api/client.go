// Package api is the request/response channel to the chat backend. The
// engine talks to it only through the Client interface; the HTTP
// implementation lives alongside so tests can swap in doubles.
package api

import (
	"context"

	"github.com/dmitrijs2005/chatline/internal/client/models"
)

// SendMessageRequest carries one outgoing message. Content is the encrypted
// wire body by the time it reaches the API.
type SendMessageRequest struct {
	ConversationID string             `json:"conversation_id"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"type"`
	ReplyToID      string             `json:"reply_to_id,omitempty"`
}

// Client is the REST surface the engine consumes. Mutations are never
// retried by the client: a failed mutation rolls back at the coordinator
// instead. Page fetches may retry transparently on transient errors.
type Client interface {
	SendMessage(ctx context.Context, req SendMessageRequest) (models.Message, error)
	EditMessage(ctx context.Context, conversationID, messageID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	AddReaction(ctx context.Context, conversationID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) error
	GetConversationMessages(ctx context.Context, conversationID, cursor string, limit int) (models.Page, error)
	MarkMessagesAsRead(ctx context.Context, conversationID string) error

	// FetchOwnPlaintext recovers the body of the local user's own message
	// from the server-held key backup.
	FetchOwnPlaintext(ctx context.Context, conversationID, messageID string) (string, error)

	Close() error
}
