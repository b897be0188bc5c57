// Package realtime delivers server-pushed conversation events. A Transport
// owns the persistent connection (reconnects included); the Registry fans a
// single underlying subscription out to every open view of a conversation,
// so push events are applied exactly once no matter how many consumers
// observe the same conversation.
package realtime

import (
	"context"

	"github.com/dmitrijs2005/chatline/internal/client/models"
)

// Handler receives one push event. Handlers run on the transport's delivery
// goroutine and must not block.
type Handler func(ev models.PushEvent)

// Subscription is a live per-conversation event feed.
type Subscription interface {
	Unsubscribe() error
}

// Transport is the persistent push channel. Reconnection and backoff are the
// implementation's concern; consumers only learn that a reconnect happened,
// so they can refetch whatever the gap swallowed.
type Transport interface {
	// Subscribe starts delivering the conversation's events to h.
	Subscribe(ctx context.Context, conversationID string, h Handler) (Subscription, error)

	// OnReconnect registers fn to run after the connection is re-established.
	OnReconnect(fn func())
}
