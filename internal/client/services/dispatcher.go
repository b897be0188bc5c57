package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatline/internal/client/models"
	"github.com/dmitrijs2005/chatline/internal/client/pending"
)

// handleEvent applies one push event to the timeline cache. Each event type
// patches the cache directly; nothing here discards and refetches a page,
// so consumers never see a flicker. The pending tracker filters out echoes
// of our own in-flight mutations.
func (s *ConversationService) handleEvent(ev models.PushEvent) {
	if s.isClosed() {
		return
	}
	if ev.ConversationID != "" && ev.ConversationID != s.conversationID {
		return
	}
	ctx := context.Background()

	switch ev.Type {
	case models.EventNewMessage:
		s.onNewMessage(ctx, ev)
	case models.EventMessageEdited:
		s.onMessageEdited(ctx, ev)
	case models.EventMessageDeleted:
		s.onMessageDeleted(ctx, ev)
	case models.EventReactionAdded:
		s.onReactionAdded(ctx, ev)
	case models.EventReactionRemoved:
		s.onReactionRemoved(ctx, ev)
	case models.EventMessageStatus:
		s.onMessageStatus(ctx, ev)
	case models.EventMessagesDelivered, models.EventMessagesRead:
		// Bulk receipts enumerate no ids; reconcile the affected range by
		// refetching statuses in the background instead of patching blind.
		go s.refreshStatuses(ctx)
	case models.EventTyping:
		if s.onTyping != nil && ev.UserID != s.selfID {
			s.onTyping(ev.UserID)
		}
	default:
		s.log.Debug(ctx, "ignoring unknown push event", "type", string(ev.Type))
	}
}

func (s *ConversationService) onNewMessage(ctx context.Context, ev models.PushEvent) {
	if ev.Message == nil {
		return
	}
	m := *ev.Message
	if s.tracker.IsPending(pending.Op{Kind: pending.KindSend, MessageID: m.ID}) {
		// Our own send echoing back; the optimistic copy is already there.
		s.log.Debug(ctx, "suppressed own message echo", "message_id", m.ID)
		return
	}
	if m.SenderID == s.selfID && s.sendInFlight() {
		// The echo can beat the send's HTTP response, before the confirmed
		// id is even known. The response itself inserts the message.
		s.log.Debug(ctx, "suppressed echo of unresolved send", "message_id", m.ID)
		return
	}
	if _, exists := s.cache.Get(m.ID); exists {
		return
	}
	s.cache.Upsert(m)
	resolved := s.pipeline.Resolve(ctx, []models.Message{m})
	s.publish(models.MutationUpdate{State: models.MutationConfirmed, Message: resolved[0]})
}

func (s *ConversationService) onMessageEdited(ctx context.Context, ev models.PushEvent) {
	if s.tracker.IsPending(pending.Op{Kind: pending.KindEdit, MessageID: ev.MessageID}) {
		s.log.Debug(ctx, "suppressed own edit echo", "message_id", ev.MessageID)
		return
	}
	// Any cached plaintext belongs to the pre-edit body.
	s.pipeline.Forget(ctx, ev.MessageID)
	s.cache.Patch(ev.MessageID, func(m *models.Message) {
		m.Content = ev.Content
		m.IsEdited = true
		m.UpdatedAt = time.Now()
	})
	s.publishPatched(ctx, models.MutationConfirmed, ev.MessageID)
}

func (s *ConversationService) onMessageDeleted(ctx context.Context, ev models.PushEvent) {
	if s.tracker.IsPending(pending.Op{Kind: pending.KindDelete, MessageID: ev.MessageID}) {
		s.log.Debug(ctx, "suppressed own delete echo", "message_id", ev.MessageID)
		return
	}
	deletedAt := time.Now()
	// Tombstone, never removal: the entry stays so a placeholder renders.
	s.cache.Patch(ev.MessageID, func(m *models.Message) {
		m.DeletedAt = &deletedAt
	})
	s.publishPatched(ctx, models.MutationConfirmed, ev.MessageID)
}

func (s *ConversationService) onReactionAdded(ctx context.Context, ev models.PushEvent) {
	op := pending.Op{
		Kind: pending.KindReaction, MessageID: ev.MessageID,
		Emoji: ev.Emoji, Action: pending.ActionAdd,
	}
	if s.tracker.IsPending(op) {
		s.log.Debug(ctx, "suppressed own reaction echo", "message_id", ev.MessageID, "emoji", ev.Emoji)
		return
	}
	s.cache.Patch(ev.MessageID, func(m *models.Message) {
		// Replace any copy from the same user+emoji, optimistic or real,
		// with the server's; append otherwise.
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID == ev.UserID && r.Emoji == ev.Emoji {
				continue
			}
			kept = append(kept, r)
		}
		m.Reactions = append(kept, models.Reaction{UserID: ev.UserID, Emoji: ev.Emoji})
	})
	s.publishPatched(ctx, models.MutationConfirmed, ev.MessageID)
}

func (s *ConversationService) onReactionRemoved(ctx context.Context, ev models.PushEvent) {
	op := pending.Op{
		Kind: pending.KindReaction, MessageID: ev.MessageID,
		Emoji: ev.Emoji, Action: pending.ActionRemove,
	}
	if s.tracker.IsPending(op) {
		s.log.Debug(ctx, "suppressed own reaction removal echo", "message_id", ev.MessageID, "emoji", ev.Emoji)
		return
	}
	s.cache.Patch(ev.MessageID, func(m *models.Message) {
		// Only the confirmed copy goes; a Temp reaction here is an in-flight
		// optimistic add that this event must not erase.
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID == ev.UserID && r.Emoji == ev.Emoji && !r.Temp {
				continue
			}
			kept = append(kept, r)
		}
		m.Reactions = kept
	})
	s.publishPatched(ctx, models.MutationConfirmed, ev.MessageID)
}

func (s *ConversationService) onMessageStatus(ctx context.Context, ev models.PushEvent) {
	s.cache.Patch(ev.MessageID, func(m *models.Message) {
		m.Status = ev.Status
	})
	s.publishPatched(ctx, models.MutationConfirmed, ev.MessageID)
	if ev.Status == models.StatusRead && s.onUnreadInvalidate != nil {
		s.onUnreadInvalidate()
	}
}

// refreshStatuses reconciles delivery state after a bulk receipt event by
// refetching the head page and copying only the statuses over.
func (s *ConversationService) refreshStatuses(ctx context.Context) {
	if s.isClosed() || !s.cache.Fetched() {
		return
	}
	page, err := s.api.GetConversationMessages(ctx, s.conversationID, "", s.pageSize)
	if err != nil {
		s.log.Warn(ctx, "bulk receipt reconciliation failed", "error", err)
		return
	}
	for _, fresh := range page.Messages {
		status := fresh.Status
		s.cache.Patch(fresh.ID, func(m *models.Message) {
			m.Status = status
		})
	}
	s.publish(models.MutationUpdate{State: models.MutationConfirmed})
}
