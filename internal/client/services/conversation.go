// Package services wires the engine together: the ConversationService is
// the public surface UIs call. It coordinates optimistic mutations against
// the timeline cache, reconciles server-pushed events, and serves the
// decrypted merged view.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatline/internal/client/api"
	"github.com/dmitrijs2005/chatline/internal/client/decrypt"
	"github.com/dmitrijs2005/chatline/internal/client/models"
	"github.com/dmitrijs2005/chatline/internal/client/pending"
	"github.com/dmitrijs2005/chatline/internal/client/realtime"
	"github.com/dmitrijs2005/chatline/internal/client/timeline"
	"github.com/dmitrijs2005/chatline/internal/common"
	"github.com/dmitrijs2005/chatline/internal/cryptox"
	"github.com/dmitrijs2005/chatline/internal/logging"
)

const defaultPageSize = 50

// Encrypter seals an outgoing plaintext body for this conversation.
// Implementations wrap cryptox.Ratchet or cryptox.SenderKey; a nil Encrypter
// sends bodies in the clear (conversations without E2E enabled).
type Encrypter interface {
	Encrypt(plaintext []byte) (cryptox.Envelope, error)
}

// Deps collects the collaborators of a ConversationService. Tracker and
// Pipeline are constructor-injected so independent engines (and tests)
// never share state.
type Deps struct {
	ConversationID string
	SelfID         string

	API       api.Client
	Registry  *realtime.Registry
	Pipeline  *decrypt.Pipeline
	Tracker   *pending.Tracker
	Encrypter Encrypter
	Logger    logging.Logger

	PageSize int

	// OnUnreadInvalidate runs when a read receipt arrives, so downstream
	// unread counters can refresh. Optional.
	OnUnreadInvalidate func()
	// OnTyping receives typing indicators. They never enter the timeline.
	OnTyping func(userID string)
}

// ConversationService is the engine for one conversation. All methods are
// safe for concurrent use; every open view of the conversation should share
// one instance.
type ConversationService struct {
	conversationID string
	selfID         string

	api       api.Client
	registry  *realtime.Registry
	cache     *timeline.Cache
	pipeline  *decrypt.Pipeline
	tracker   *pending.Tracker
	encrypter Encrypter
	log       logging.Logger

	pageSize           int
	onUnreadInvalidate func()
	onTyping           func(string)

	mu              sync.Mutex
	closed          bool
	cancelPush      func()
	detachReconnect func()
	subscribers     map[int]chan models.MutationUpdate
	nextSubID       int
	sendsInFlight   int  // sends begun but not yet resolved
	seqRefetched    bool // one-shot guard for the missing-sequence recovery
}

// NewConversation builds the engine and attaches it to the push channel.
func NewConversation(ctx context.Context, d Deps) (*ConversationService, error) {
	if d.PageSize <= 0 {
		d.PageSize = defaultPageSize
	}
	s := &ConversationService{
		conversationID:     d.ConversationID,
		selfID:             d.SelfID,
		api:                d.API,
		registry:           d.Registry,
		cache:              timeline.New(),
		pipeline:           d.Pipeline,
		tracker:            d.Tracker,
		encrypter:          d.Encrypter,
		log:                d.Logger.With("conversation_id", d.ConversationID),
		pageSize:           d.PageSize,
		onUnreadInvalidate: d.OnUnreadInvalidate,
		onTyping:           d.OnTyping,
		subscribers:        make(map[int]chan models.MutationUpdate),
	}

	cancel, err := s.registry.Subscribe(ctx, d.ConversationID, s.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("attaching push channel: %w", err)
	}
	s.cancelPush = cancel

	// The transport owns reconnection; our part is reconciling the gap by
	// refetching the most recent page in the background. Close detaches
	// the callback with everything else.
	s.detachReconnect = s.registry.OnReconnect(func() {
		go s.reconcile(context.Background())
	})

	return s, nil
}

// Close detaches the engine from the push channel and drops subscribers.
// Outstanding network calls are not aborted; their completion becomes a
// no-op against the detached state.
func (s *ConversationService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelPush
	detach := s.detachReconnect
	subs := s.subscribers
	s.subscribers = make(map[int]chan models.MutationUpdate)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if detach != nil {
		detach()
	}
	for _, ch := range subs {
		close(ch)
	}
}

func (s *ConversationService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe returns a channel of mutation updates and a cancel function.
// Slow consumers lose updates rather than blocking the engine.
func (s *ConversationService) Subscribe() (<-chan models.MutationUpdate, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan models.MutationUpdate, 16)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if c, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(c)
			}
			s.mu.Unlock()
		})
	}
}

func (s *ConversationService) publish(u models.MutationUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

// Messages returns the decrypted merged timeline, fetching the first page
// on demand. The merged view ascends by (sequence number, creation time),
// which is exactly the order the ratchet requires.
func (s *ConversationService) Messages(ctx context.Context) ([]models.Message, error) {
	if s.isClosed() {
		return nil, common.ErrClosed
	}
	if !s.cache.Fetched() {
		if err := s.fetchPage(ctx, ""); err != nil {
			return nil, err
		}
	}
	return s.pipeline.Resolve(ctx, s.cache.Merged()), nil
}

// LoadMore fetches the next older page. It only ever appends to the tail of
// history; live inserts keep landing at the head.
func (s *ConversationService) LoadMore(ctx context.Context) error {
	if s.isClosed() {
		return common.ErrClosed
	}
	cursor, hasMore := s.cache.NextCursor()
	if !hasMore {
		return nil
	}
	return s.fetchPage(ctx, cursor)
}

func (s *ConversationService) fetchPage(ctx context.Context, cursor string) error {
	page, err := s.api.GetConversationMessages(ctx, s.conversationID, cursor, s.pageSize)
	if err != nil {
		return err
	}

	if missing := missingSequence(page.Messages); missing {
		s.mu.Lock()
		refetch := !s.seqRefetched
		s.seqRefetched = true
		s.mu.Unlock()

		if refetch {
			// Server data predating sequence migration: invalidate once and
			// refetch from the top. The guard keeps this from looping.
			s.log.Warn(ctx, "fetched messages missing sequence numbers, refetching once")
			s.cache.Invalidate()
			fresh, err := s.api.GetConversationMessages(ctx, s.conversationID, "", s.pageSize)
			if err != nil {
				return fmt.Errorf("%w: refetch failed: %v", common.ErrMissingSequence, err)
			}
			s.cache.MergePage(fresh)
			return nil
		}
		// Keep going on the createdAt fallback order.
	}

	s.cache.MergePage(page)
	return nil
}

func missingSequence(msgs []models.Message) bool {
	for _, m := range msgs {
		if m.SequenceNumber == 0 && !models.IsTemp(m.ID) {
			return true
		}
	}
	return false
}

// reconcile refetches the most recent page after a transport gap and folds
// in whatever was missed: new messages are inserted, and mutations that
// landed on existing messages during the gap (edits, deletions, receipts,
// reactions) are applied. The pagination cursor is left alone.
func (s *ConversationService) reconcile(ctx context.Context) {
	if s.isClosed() || !s.cache.Fetched() {
		return
	}
	page, err := s.api.GetConversationMessages(ctx, s.conversationID, "", s.pageSize)
	if err != nil {
		s.log.Warn(ctx, "reconnect reconciliation fetch failed", "error", err)
		return
	}
	for _, fresh := range page.Messages {
		s.mergeServerState(ctx, fresh)
	}
	s.log.Info(ctx, "reconciled after reconnect", "fetched", len(page.Messages))
	s.publish(models.MutationUpdate{State: models.MutationConfirmed})
}

// mergeServerState folds one server-fetched message into the cache. Absent
// entries are inserted; existing ones get the server-authoritative fields,
// unless an in-flight local mutation owns the entry, in which case its
// confirmation or rollback settles the state.
func (s *ConversationService) mergeServerState(ctx context.Context, fresh models.Message) {
	cur, ok := s.cache.Get(fresh.ID)
	if !ok {
		s.cache.MergeHead([]models.Message{fresh})
		return
	}
	if s.tracker.IsMessagePending(fresh.ID) {
		return
	}

	// The body is replaced only when the server saw an edit we did not;
	// the cache may hold the locally decrypted or own-sent plaintext, and
	// that must survive a reconcile that changed nothing.
	bodyChanged := fresh.IsEdited && (!cur.IsEdited || fresh.UpdatedAt.After(cur.UpdatedAt))
	if bodyChanged {
		s.pipeline.Forget(ctx, fresh.ID)
	}

	s.cache.Patch(fresh.ID, func(m *models.Message) {
		if bodyChanged {
			m.Content = fresh.Content
			m.Encrypted = fresh.Encrypted
			m.Scheme = fresh.Scheme
		}
		m.IsEdited = fresh.IsEdited
		m.UpdatedAt = fresh.UpdatedAt
		m.DeletedAt = fresh.DeletedAt
		m.Status = fresh.Status
		m.SequenceNumber = fresh.SequenceNumber
		// Server reactions win; local in-flight optimistic ones survive.
		merged := append([]models.Reaction(nil), fresh.Reactions...)
		for _, r := range m.Reactions {
			if r.Temp {
				merged = append(merged, r)
			}
		}
		m.Reactions = merged
	})
}
