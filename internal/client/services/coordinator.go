package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatline/internal/client/api"
	"github.com/dmitrijs2005/chatline/internal/client/models"
	"github.com/dmitrijs2005/chatline/internal/client/pending"
	"github.com/dmitrijs2005/chatline/internal/client/timeline"
	"github.com/dmitrijs2005/chatline/internal/common"
)

// SendOptions carries the optional fields of an outgoing message.
type SendOptions struct {
	Type      models.MessageType
	ReplyToID string
}

// Send inserts an optimistic entry immediately, then encrypts and performs
// the network call. On success the temporary entry is superseded by the
// confirmed message at the same position and the confirmed id is marked
// pending so the push echo is suppressed (the marker expires on its own
// after the grace window). On failure the temporary entry stays, marked
// failed, so the user can retry.
func (s *ConversationService) Send(ctx context.Context, content string, opts SendOptions) (models.Message, error) {
	if s.isClosed() {
		return models.Message{}, common.ErrClosed
	}
	if opts.Type == "" {
		opts.Type = models.MessageTypeText
	}

	temp := models.Message{
		ID:             models.NewTempID(),
		ConversationID: s.conversationID,
		SenderID:       s.selfID,
		Content:        content,
		Type:           opts.Type,
		Status:         models.StatusSending,
		CreatedAt:      time.Now(),
		ReplyToID:      opts.ReplyToID,
	}
	s.cache.Upsert(temp)
	s.publish(models.MutationUpdate{State: models.MutationOptimistic, Message: temp})

	// The confirmed id is unknown until the server responds, and the push
	// echo can arrive before the response does. The in-flight counter lets
	// the dispatcher suppress self-sent inserts during that window.
	s.beginSend()
	defer s.endSend()

	wire := content
	if s.encrypter != nil {
		env, err := s.encrypter.Encrypt([]byte(content))
		if err != nil {
			return s.failSend(temp, fmt.Errorf("encrypting message: %w", err))
		}
		wire, err = env.Encode()
		if err != nil {
			return s.failSend(temp, fmt.Errorf("encoding envelope: %w", err))
		}
	}

	confirmed, err := s.api.SendMessage(ctx, api.SendMessageRequest{
		ConversationID: s.conversationID,
		Content:        wire,
		Type:           opts.Type,
		ReplyToID:      opts.ReplyToID,
	})
	if err != nil {
		return s.failSend(temp, fmt.Errorf("sending message: %w", err))
	}

	// Suppress the echo before the confirmed entry becomes visible.
	s.tracker.Begin(pending.Op{Kind: pending.KindSend, MessageID: confirmed.ID})

	// The sender already has the plaintext; it must never be re-decrypted.
	s.pipeline.CacheOwnPlaintext(ctx, confirmed.ID, content)
	confirmed.Content = content
	confirmed.Encrypted = false
	if confirmed.Status == "" {
		confirmed.Status = models.StatusSent
	}

	s.cache.Remove(temp.ID)
	s.cache.Upsert(confirmed)
	s.publish(models.MutationUpdate{State: models.MutationConfirmed, Message: confirmed})
	return confirmed, nil
}

func (s *ConversationService) beginSend() {
	s.mu.Lock()
	s.sendsInFlight++
	s.mu.Unlock()
}

func (s *ConversationService) endSend() {
	s.mu.Lock()
	s.sendsInFlight--
	s.mu.Unlock()
}

func (s *ConversationService) sendInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendsInFlight > 0
}

func (s *ConversationService) failSend(temp models.Message, err error) (models.Message, error) {
	s.cache.Patch(temp.ID, func(m *models.Message) {
		m.Status = models.StatusFailed
	})
	temp.Status = models.StatusFailed
	s.publish(models.MutationUpdate{State: models.MutationFailed, Message: temp, Err: err})
	return temp, err
}

// Edit optimistically rewrites the message body, then confirms with the
// server. A failure restores the pre-mutation snapshot verbatim.
func (s *ConversationService) Edit(ctx context.Context, messageID, content string) error {
	if s.isClosed() {
		return common.ErrClosed
	}

	snap := s.cache.Snapshot()
	op := pending.Op{Kind: pending.KindEdit, MessageID: messageID}
	s.tracker.Begin(op)

	found := s.cache.Patch(messageID, func(m *models.Message) {
		m.Content = content
		m.Encrypted = false
		m.IsEdited = true
		m.UpdatedAt = time.Now()
	})
	if !found {
		s.tracker.End(op)
		return common.ErrNotFound
	}
	s.publishPatched(ctx, models.MutationOptimistic, messageID)

	wire := content
	if s.encrypter != nil {
		env, err := s.encrypter.Encrypt([]byte(content))
		if err == nil {
			wire, err = env.Encode()
		}
		if err != nil {
			return s.rollback(snap, op, fmt.Errorf("encrypting edit: %w", err))
		}
	}

	if _, err := s.api.EditMessage(ctx, s.conversationID, messageID, wire); err != nil {
		return s.rollback(snap, op, fmt.Errorf("editing message: %w", err))
	}

	s.tracker.End(op)
	s.pipeline.CacheOwnPlaintext(ctx, messageID, content)
	s.publishPatched(ctx, models.MutationConfirmed, messageID)
	return nil
}

// Delete optimistically tombstones the message; it stays in the timeline so
// consumers can render a deleted placeholder.
func (s *ConversationService) Delete(ctx context.Context, messageID string) error {
	if s.isClosed() {
		return common.ErrClosed
	}

	snap := s.cache.Snapshot()
	op := pending.Op{Kind: pending.KindDelete, MessageID: messageID}
	s.tracker.Begin(op)

	deletedAt := time.Now()
	found := s.cache.Patch(messageID, func(m *models.Message) {
		m.DeletedAt = &deletedAt
	})
	if !found {
		s.tracker.End(op)
		return common.ErrNotFound
	}
	s.publishPatched(ctx, models.MutationOptimistic, messageID)

	if err := s.api.DeleteMessage(ctx, s.conversationID, messageID); err != nil {
		return s.rollback(snap, op, fmt.Errorf("deleting message: %w", err))
	}

	s.tracker.End(op)
	s.publishPatched(ctx, models.MutationConfirmed, messageID)
	return nil
}

// AddReaction appends the caller's reaction optimistically. Adding the same
// (user, emoji) twice is a no-op, matching the server's idempotence.
func (s *ConversationService) AddReaction(ctx context.Context, messageID, emoji string) error {
	if s.isClosed() {
		return common.ErrClosed
	}

	snap := s.cache.Snapshot()
	op := pending.Op{
		Kind: pending.KindReaction, MessageID: messageID,
		Emoji: emoji, Action: pending.ActionAdd,
	}
	s.tracker.Begin(op)

	found := s.cache.Patch(messageID, func(m *models.Message) {
		if m.HasReaction(s.selfID, emoji) {
			return
		}
		m.Reactions = append(m.Reactions, models.Reaction{UserID: s.selfID, Emoji: emoji, Temp: true})
	})
	if !found {
		s.tracker.End(op)
		return common.ErrNotFound
	}
	s.publishPatched(ctx, models.MutationOptimistic, messageID)

	if err := s.api.AddReaction(ctx, s.conversationID, messageID, emoji); err != nil {
		return s.rollback(snap, op, fmt.Errorf("adding reaction: %w", err))
	}

	s.tracker.End(op)
	s.cache.Patch(messageID, func(m *models.Message) {
		for i := range m.Reactions {
			if m.Reactions[i].UserID == s.selfID && m.Reactions[i].Emoji == emoji {
				m.Reactions[i].Temp = false
			}
		}
	})
	s.publishPatched(ctx, models.MutationConfirmed, messageID)
	return nil
}

// RemoveReaction removes only the caller's own reaction with the given
// emoji, leaving every other user's reactions untouched.
func (s *ConversationService) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	if s.isClosed() {
		return common.ErrClosed
	}

	snap := s.cache.Snapshot()
	op := pending.Op{
		Kind: pending.KindReaction, MessageID: messageID,
		Emoji: emoji, Action: pending.ActionRemove,
	}
	s.tracker.Begin(op)

	found := s.cache.Patch(messageID, func(m *models.Message) {
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID == s.selfID && r.Emoji == emoji {
				continue
			}
			kept = append(kept, r)
		}
		m.Reactions = kept
	})
	if !found {
		s.tracker.End(op)
		return common.ErrNotFound
	}
	s.publishPatched(ctx, models.MutationOptimistic, messageID)

	if err := s.api.RemoveReaction(ctx, s.conversationID, messageID, emoji); err != nil {
		return s.rollback(snap, op, fmt.Errorf("removing reaction: %w", err))
	}

	s.tracker.End(op)
	s.publishPatched(ctx, models.MutationConfirmed, messageID)
	return nil
}

// SwitchReaction replaces the caller's old emoji with a new one: two
// ordered operations, remove then add, never an atomic swap. Only the
// caller's own reaction moves.
func (s *ConversationService) SwitchReaction(ctx context.Context, messageID, oldEmoji, newEmoji string) error {
	if err := s.RemoveReaction(ctx, messageID, oldEmoji); err != nil {
		return err
	}
	return s.AddReaction(ctx, messageID, newEmoji)
}

// MarkRead reports the conversation as read and optimistically marks
// incoming messages accordingly.
func (s *ConversationService) MarkRead(ctx context.Context) error {
	if s.isClosed() {
		return common.ErrClosed
	}
	if err := s.api.MarkMessagesAsRead(ctx, s.conversationID); err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	for _, m := range s.cache.Merged() {
		if m.SenderID == s.selfID || m.Status == models.StatusRead {
			continue
		}
		s.cache.Patch(m.ID, func(msg *models.Message) {
			msg.Status = models.StatusRead
		})
	}
	return nil
}

// rollback restores the pre-mutation snapshot verbatim and surfaces err.
func (s *ConversationService) rollback(snap timeline.Snapshot, op pending.Op, err error) error {
	s.cache.Restore(snap)
	s.tracker.End(op)
	s.publish(models.MutationUpdate{State: models.MutationFailed, Err: err})
	return err
}

// publishPatched pushes the current cache state of one message to the
// subscribers, decrypted first: the cache holds wire content, and raw
// ciphertext must never reach a consumer.
func (s *ConversationService) publishPatched(ctx context.Context, state models.MutationState, messageID string) {
	m, ok := s.cache.Get(messageID)
	if !ok {
		return
	}
	resolved := s.pipeline.Resolve(ctx, []models.Message{m})
	s.publish(models.MutationUpdate{State: state, Message: resolved[0]})
}
