// Package plaintexts is the persisted tier of the decryption cache: a local
// key-value store mapping message id to decrypted plaintext, scoped per
// conversation. It survives restarts so historical messages never re-derive
// ratchet state, and is cleared on logout.
package plaintexts

import "context"

// FailureKind distinguishes the two permanent-failure placeholders.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureGeneric     FailureKind = "generic"
	FailureUnsupported FailureKind = "unsupported"
)

// Entry is one cached decryption result. Either Content is set, or Failed
// is true and FailureKind says why.
type Entry struct {
	MessageID   string
	Content     string
	Failed      bool
	FailureKind FailureKind
}

// Repository describes the persisted plaintext cache. Entries are
// write-once: the first Put for a message id wins and later Puts are
// ignored, so a successful decryption is never overwritten and a permanent
// failure is never retried.
type Repository interface {
	// Get returns the cached entry, or common.ErrNotFound.
	Get(ctx context.Context, conversationID, messageID string) (*Entry, error)

	// Put stores an entry unless one already exists for the message id.
	Put(ctx context.Context, conversationID string, entry *Entry) error

	// Delete drops the entry for one message, so the next resolve derives
	// it afresh. Used when an edit replaces the message body.
	Delete(ctx context.Context, conversationID, messageID string) error

	// ClearConversation drops all entries for one conversation.
	ClearConversation(ctx context.Context, conversationID string) error

	// ClearAll drops every entry. Called on logout.
	ClearAll(ctx context.Context) error
}
