package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatline/internal/client/api"
	"github.com/dmitrijs2005/chatline/internal/client/decrypt"
	"github.com/dmitrijs2005/chatline/internal/client/models"
	"github.com/dmitrijs2005/chatline/internal/client/pending"
	"github.com/dmitrijs2005/chatline/internal/client/realtime"
	"github.com/dmitrijs2005/chatline/internal/client/repositories/plaintexts"
	"github.com/dmitrijs2005/chatline/internal/common"
	"github.com/dmitrijs2005/chatline/internal/cryptox"
	"github.com/dmitrijs2005/chatline/internal/logging"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

const (
	testConvID = "conv_1"
	testSelfID = "user_self"
	testPeerID = "user_peer"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testStore(t *testing.T) plaintexts.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, plaintexts.InitSchema(context.Background(), db))
	return plaintexts.NewSQLiteRepository(db)
}

type fakeAPI struct {
	mu sync.Mutex

	page   models.Page
	pageFn func(cursor string) (models.Page, error)

	sendErr   error
	editErr   error
	deleteErr error
	reactErr  error

	// onSend runs after the send request is recorded but before the
	// response is returned, standing in for a push echo racing the
	// HTTP response.
	onSend func()

	getCalls      int
	markReadCalls int
	lastSend      api.SendMessageRequest
	reactions     []string
}

func (a *fakeAPI) SendMessage(_ context.Context, req api.SendMessageRequest) (models.Message, error) {
	a.mu.Lock()
	a.lastSend = req
	sendErr := a.sendErr
	onSend := a.onSend
	a.mu.Unlock()

	if onSend != nil {
		onSend()
	}
	if sendErr != nil {
		return models.Message{}, sendErr
	}
	return models.Message{
		ID:             "msg_42",
		ConversationID: req.ConversationID,
		SenderID:       testSelfID,
		Content:        req.Content,
		Type:           req.Type,
		Status:         models.StatusSent,
		SequenceNumber: 42,
		CreatedAt:      time.Now(),
	}, nil
}

func (a *fakeAPI) EditMessage(_ context.Context, _, messageID, content string) (models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.editErr != nil {
		return models.Message{}, a.editErr
	}
	return models.Message{ID: messageID, Content: content, IsEdited: true}, nil
}

func (a *fakeAPI) DeleteMessage(_ context.Context, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deleteErr
}

func (a *fakeAPI) AddReaction(_ context.Context, _, messageID, emoji string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reactErr != nil {
		return a.reactErr
	}
	a.reactions = append(a.reactions, "add:"+messageID+":"+emoji)
	return nil
}

func (a *fakeAPI) RemoveReaction(_ context.Context, _, messageID, emoji string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reactErr != nil {
		return a.reactErr
	}
	a.reactions = append(a.reactions, "remove:"+messageID+":"+emoji)
	return nil
}

func (a *fakeAPI) GetConversationMessages(_ context.Context, _, cursor string, _ int) (models.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getCalls++
	if a.pageFn != nil {
		return a.pageFn(cursor)
	}
	return a.page, nil
}

func (a *fakeAPI) MarkMessagesAsRead(_ context.Context, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markReadCalls++
	return nil
}

func (a *fakeAPI) FetchOwnPlaintext(_ context.Context, _, _ string) (string, error) {
	return "", common.ErrNotFound
}

func (a *fakeAPI) Close() error { return nil }

func (a *fakeAPI) getCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getCalls
}

type fakeSubscription struct{}

func (s *fakeSubscription) Unsubscribe() error { return nil }

type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]realtime.Handler
	reconnect []func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]realtime.Handler)}
}

func (t *fakeTransport) Subscribe(_ context.Context, conversationID string, h realtime.Handler) (realtime.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[conversationID] = h
	return &fakeSubscription{}, nil
}

func (t *fakeTransport) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnect = append(t.reconnect, fn)
}

func (t *fakeTransport) push(conversationID string, ev models.PushEvent) {
	t.mu.Lock()
	h := t.handlers[conversationID]
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (t *fakeTransport) fireReconnect() {
	t.mu.Lock()
	fns := append([]func(){}, t.reconnect...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func serverMessage(id string, seq int64, sender string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: testConvID,
		SenderID:       sender,
		Content:        "body of " + id,
		Type:           models.MessageTypeText,
		Status:         models.StatusDelivered,
		SequenceNumber: seq,
		CreatedAt:      time.Unix(1700000000+seq, 0),
	}
}

func newTestService(t *testing.T, a *fakeAPI) (*ConversationService, *fakeTransport) {
	return newTestServiceWithDecrypter(t, a, nil)
}

func newTestServiceWithDecrypter(t *testing.T, a *fakeAPI, dec decrypt.Decrypter) (*ConversationService, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	tracker := pending.New(pending.DefaultTTL)
	t.Cleanup(tracker.Close)

	log := testLogger()
	pipe := decrypt.New(testConvID, testSelfID, dec, a, testStore(t), log)

	s, err := NewConversation(context.Background(), Deps{
		ConversationID: testConvID,
		SelfID:         testSelfID,
		API:            a,
		Registry:       realtime.NewRegistry(transport),
		Pipeline:       pipe,
		Tracker:        tracker,
		Logger:         log,
		PageSize:       10,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, transport
}

func messageByID(t *testing.T, msgs []models.Message, id string) models.Message {
	t.Helper()
	for _, m := range msgs {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("message %s not in timeline", id)
	return models.Message{}
}

func TestSend_ConfirmAndSuppressEcho(t *testing.T) {
	a := &fakeAPI{}
	s, transport := newTestService(t, a)
	ctx := context.Background()

	sent, err := s.Send(ctx, "hello there", SendOptions{})
	require.NoError(t, err)
	require.Equal(t, "msg_42", sent.ID)
	require.Equal(t, "hello there", sent.Content)

	// The push echo of our own send arrives after confirmation.
	transport.push(testConvID, models.PushEvent{
		Type:           models.EventNewMessage,
		ConversationID: testConvID,
		Message:        &models.Message{ID: "msg_42", ConversationID: testConvID, SenderID: testSelfID, Content: "ciphertext", Encrypted: true},
	})

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)

	var count int
	for _, m := range msgs {
		require.False(t, models.IsTemp(m.ID), "temporary entry survived confirmation: %s", m.ID)
		if m.ID == "msg_42" {
			count++
			require.Equal(t, "hello there", m.Content)
		}
	}
	require.Equal(t, 1, count, "echo produced a duplicate entry")
}

func TestSend_FailureKeepsRetryableEntry(t *testing.T) {
	a := &fakeAPI{sendErr: errors.New("network down")}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	temp, err := s.Send(ctx, "doomed", SendOptions{})
	require.Error(t, err)
	require.True(t, models.IsTemp(temp.ID))

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	got := messageByID(t, msgs, temp.ID)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Equal(t, "doomed", got.Content)
}

func TestEdit_RollbackRestoresSnapshot(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{serverMessage("msg_1", 1, testPeerID)}}}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	before, err := s.Messages(ctx)
	require.NoError(t, err)
	orig := messageByID(t, before, "msg_1")

	a.mu.Lock()
	a.editErr = errors.New("server rejected")
	a.mu.Unlock()

	err = s.Edit(ctx, "msg_1", "rewritten")
	require.Error(t, err)

	after, err := s.Messages(ctx)
	require.NoError(t, err)
	require.Equal(t, orig, messageByID(t, after, "msg_1"), "rollback must restore the message verbatim")
}

func TestEdit_Confirmed(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{serverMessage("msg_1", 1, testSelfID)}}}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Edit(ctx, "msg_1", "rewritten"))

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	got := messageByID(t, msgs, "msg_1")
	require.Equal(t, "rewritten", got.Content)
	require.True(t, got.IsEdited)
}

func TestEdit_UnknownMessage(t *testing.T) {
	a := &fakeAPI{page: models.Page{}}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, s.Edit(ctx, "msg_missing", "x"), common.ErrNotFound)
}

func TestDelete_TombstonesInPlace(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{
		serverMessage("msg_1", 1, testSelfID),
		serverMessage("msg_2", 2, testPeerID),
	}}}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "msg_1"))

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "deleted message must stay as a tombstone")
	require.NotNil(t, messageByID(t, msgs, "msg_1").DeletedAt)
	require.Nil(t, messageByID(t, msgs, "msg_2").DeletedAt)
}

func TestPushDelete_FromPeer(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{serverMessage("msg_1", 1, testPeerID)}}}
	s, transport := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)

	transport.push(testConvID, models.PushEvent{
		Type:           models.EventMessageDeleted,
		ConversationID: testConvID,
		MessageID:      "msg_1",
	})

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	require.NotNil(t, messageByID(t, msgs, "msg_1").DeletedAt)
}

func TestSwitchReaction_LeavesOtherUsersAlone(t *testing.T) {
	seeded := serverMessage("msg_1", 1, testPeerID)
	seeded.Reactions = []models.Reaction{
		{UserID: testSelfID, Emoji: "👍"},
		{UserID: testPeerID, Emoji: "👍"},
	}
	a := &fakeAPI{page: models.Page{Messages: []models.Message{seeded}}}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SwitchReaction(ctx, "msg_1", "👍", "❤️"))

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	got := messageByID(t, msgs, "msg_1")
	require.True(t, got.HasReaction(testSelfID, "❤️"))
	require.False(t, got.HasReaction(testSelfID, "👍"))
	require.True(t, got.HasReaction(testPeerID, "👍"), "peer's reaction must survive the switch")

	a.mu.Lock()
	calls := append([]string{}, a.reactions...)
	a.mu.Unlock()
	require.Equal(t, []string{"remove:msg_1:👍", "add:msg_1:❤️"}, calls, "switch is remove then add, in order")
}

func TestReactionEcho_NoDuplicate(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{serverMessage("msg_1", 1, testPeerID)}}}
	s, transport := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AddReaction(ctx, "msg_1", "🔥"))

	// The server echoes our reaction back after the call resolved.
	transport.push(testConvID, models.PushEvent{
		Type:           models.EventReactionAdded,
		ConversationID: testConvID,
		MessageID:      "msg_1",
		UserID:         testSelfID,
		Emoji:          "🔥",
	})

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, messageByID(t, msgs, "msg_1").Reactions, 1)
}

func TestReactionRemovedEcho_SparesOptimisticAdd(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{serverMessage("msg_1", 1, testPeerID)}}}
	s, transport := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)

	// An optimistic add is in flight when a stale removal echo arrives.
	s.cache.Patch("msg_1", func(m *models.Message) {
		m.Reactions = append(m.Reactions, models.Reaction{UserID: testSelfID, Emoji: "🔥", Temp: true})
	})
	transport.push(testConvID, models.PushEvent{
		Type:           models.EventReactionRemoved,
		ConversationID: testConvID,
		MessageID:      "msg_1",
		UserID:         testSelfID,
		Emoji:          "🔥",
	})

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	require.True(t, messageByID(t, msgs, "msg_1").HasReaction(testSelfID, "🔥"))
}

func TestMissingSequence_RefetchesExactlyOnce(t *testing.T) {
	legacy := serverMessage("msg_old", 0, testPeerID) // predates sequence migration
	migrated := serverMessage("msg_old", 7, testPeerID)

	a := &fakeAPI{}
	a.pageFn = func(cursor string) (models.Page, error) {
		if a.getCalls == 1 {
			return models.Page{Messages: []models.Message{legacy}}, nil
		}
		return models.Page{Messages: []models.Message{migrated}}, nil
	}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, a.getCallCount(), "missing sequence triggers one refetch")
	require.Equal(t, int64(7), messageByID(t, msgs, "msg_old").SequenceNumber)

	// A later page with the same defect must not trigger another refetch.
	_, err = s.Messages(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, a.getCallCount())
}

func TestReconnect_ReconcilesMissedMessages(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{serverMessage("msg_1", 1, testPeerID)}}}
	s, transport := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)

	// While disconnected the peer sent msg_2; the refetched head page has it.
	a.mu.Lock()
	a.page = models.Page{Messages: []models.Message{
		serverMessage("msg_2", 2, testPeerID),
		serverMessage("msg_1", 1, testPeerID),
	}}
	a.mu.Unlock()

	transport.fireReconnect()

	require.Eventually(t, func() bool {
		msgs, err := s.Messages(ctx)
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.ID == "msg_2" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPushMessage_NeverPublishesCiphertext(t *testing.T) {
	root := make([]byte, cryptox.KeySize)
	_, err := rand.Read(root)
	require.NoError(t, err)
	peer, mine, err := cryptox.NewRatchetPair(root)
	require.NoError(t, err)

	a := &fakeAPI{page: models.Page{}}
	s, transport := newTestServiceWithDecrypter(t, a, mine)
	ctx := context.Background()
	_, err = s.Messages(ctx)
	require.NoError(t, err)

	updates, cancel := s.Subscribe()
	defer cancel()

	env, err := peer.Encrypt([]byte("secret greeting"))
	require.NoError(t, err)
	wire, err := env.Encode()
	require.NoError(t, err)

	transport.push(testConvID, models.PushEvent{
		Type:           models.EventNewMessage,
		ConversationID: testConvID,
		Message: &models.Message{
			ID: "msg_9", ConversationID: testConvID, SenderID: testPeerID,
			Content: wire, Encrypted: true, SequenceNumber: 9, CreatedAt: time.Now(),
		},
	})

	select {
	case u := <-updates:
		require.False(t, u.Message.Encrypted, "subscribers must never see a wire envelope")
		require.Equal(t, "secret greeting", u.Message.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the push update")
	}
}

func TestPushDelete_PublishedWithoutCiphertext(t *testing.T) {
	root := make([]byte, cryptox.KeySize)
	_, err := rand.Read(root)
	require.NoError(t, err)
	peer, mine, err := cryptox.NewRatchetPair(root)
	require.NoError(t, err)

	env, err := peer.Encrypt([]byte("soon deleted"))
	require.NoError(t, err)
	wire, err := env.Encode()
	require.NoError(t, err)
	seeded := serverMessage("msg_1", 1, testPeerID)
	seeded.Content = wire
	seeded.Encrypted = true

	a := &fakeAPI{page: models.Page{Messages: []models.Message{seeded}}}
	s, transport := newTestServiceWithDecrypter(t, a, mine)
	ctx := context.Background()
	_, err = s.Messages(ctx)
	require.NoError(t, err)

	updates, cancel := s.Subscribe()
	defer cancel()

	transport.push(testConvID, models.PushEvent{
		Type:           models.EventMessageDeleted,
		ConversationID: testConvID,
		MessageID:      "msg_1",
	})

	select {
	case u := <-updates:
		require.False(t, u.Message.Encrypted)
		require.NotNil(t, u.Message.DeletedAt)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the push update")
	}
}

func TestReconnect_AppliesGapMutations(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{
		serverMessage("msg_1", 1, testPeerID),
		serverMessage("msg_2", 2, testPeerID),
	}}}
	s, transport := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)

	// While disconnected, msg_1 was deleted and msg_2 edited; the events
	// are gone, only the refetched head page carries the outcome.
	deletedAt := time.Now()
	gone := serverMessage("msg_1", 1, testPeerID)
	gone.DeletedAt = &deletedAt
	edited := serverMessage("msg_2", 2, testPeerID)
	edited.Content = "corrected body"
	edited.IsEdited = true
	edited.UpdatedAt = time.Now()

	a.mu.Lock()
	a.page = models.Page{Messages: []models.Message{edited, gone}}
	a.mu.Unlock()

	transport.fireReconnect()

	require.Eventually(t, func() bool {
		msgs, err := s.Messages(ctx)
		if err != nil {
			return false
		}
		var deleted, patched bool
		for _, m := range msgs {
			switch m.ID {
			case "msg_1":
				deleted = m.DeletedAt != nil
			case "msg_2":
				patched = m.IsEdited && m.Content == "corrected body"
			}
		}
		return deleted && patched
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSend_EchoBeforeConfirmationNotDuplicated(t *testing.T) {
	a := &fakeAPI{}
	var transport *fakeTransport
	a.onSend = func() {
		// The push echo lands before SendMessage has returned the id.
		transport.push(testConvID, models.PushEvent{
			Type:           models.EventNewMessage,
			ConversationID: testConvID,
			Message: &models.Message{
				ID: "msg_42", ConversationID: testConvID, SenderID: testSelfID,
				Content: "ciphertext", Encrypted: true, SequenceNumber: 42, CreatedAt: time.Now(),
			},
		})
	}
	s, tr := newTestService(t, a)
	transport = tr
	ctx := context.Background()

	sent, err := s.Send(ctx, "racing the echo", SendOptions{})
	require.NoError(t, err)
	require.Equal(t, "msg_42", sent.ID)

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	var count int
	for _, m := range msgs {
		require.False(t, models.IsTemp(m.ID), "temporary entry survived confirmation: %s", m.ID)
		if m.ID == "msg_42" {
			count++
			require.Equal(t, "racing the echo", m.Content)
		}
	}
	require.Equal(t, 1, count, "early echo produced a duplicate entry")
}

func TestClose_DetachesReconnectCallback(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{serverMessage("msg_1", 1, testPeerID)}}}
	s, transport := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)
	calls := a.getCallCount()

	s.Close()
	transport.fireReconnect()

	require.Never(t, func() bool {
		return a.getCallCount() != calls
	}, 300*time.Millisecond, 25*time.Millisecond, "closed engine must not reconcile")
}

func TestPushEvent_OtherConversationIgnored(t *testing.T) {
	a := &fakeAPI{page: models.Page{}}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)

	other := serverMessage("msg_other", 1, testPeerID)
	other.ConversationID = "conv_2"
	s.handleEvent(models.PushEvent{
		Type:           models.EventNewMessage,
		ConversationID: "conv_2",
		Message:        &other,
	})

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMarkRead(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{
		serverMessage("msg_mine", 1, testSelfID),
		serverMessage("msg_theirs", 2, testPeerID),
	}}}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)
	require.NoError(t, s.MarkRead(ctx))

	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, messageByID(t, msgs, "msg_theirs").Status)
	require.Equal(t, models.StatusDelivered, messageByID(t, msgs, "msg_mine").Status)

	a.mu.Lock()
	calls := a.markReadCalls
	a.mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestSubscriber_ReceivesLifecycle(t *testing.T) {
	a := &fakeAPI{}
	s, _ := newTestService(t, a)
	ctx := context.Background()

	updates, cancel := s.Subscribe()
	defer cancel()

	_, err := s.Send(ctx, "hi", SendOptions{})
	require.NoError(t, err)

	states := make([]models.MutationState, 0, 2)
	for len(states) < 2 {
		select {
		case u := <-updates:
			states = append(states, u.State)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for updates, got %v", states)
		}
	}
	require.Equal(t, []models.MutationState{models.MutationOptimistic, models.MutationConfirmed}, states)
}

func TestClosed_RejectsOperations(t *testing.T) {
	a := &fakeAPI{}
	s, _ := newTestService(t, a)
	s.Close()

	ctx := context.Background()
	_, err := s.Messages(ctx)
	require.ErrorIs(t, err, common.ErrClosed)
	_, err = s.Send(ctx, "x", SendOptions{})
	require.ErrorIs(t, err, common.ErrClosed)
	require.ErrorIs(t, s.Edit(ctx, "id", "x"), common.ErrClosed)
	require.ErrorIs(t, s.Delete(ctx, "id"), common.ErrClosed)

	// Double close is a no-op.
	s.Close()
}

func TestBulkReadReceipt_RefreshesStatuses(t *testing.T) {
	a := &fakeAPI{page: models.Page{Messages: []models.Message{serverMessage("msg_1", 1, testSelfID)}}}
	s, transport := newTestService(t, a)
	ctx := context.Background()

	_, err := s.Messages(ctx)
	require.NoError(t, err)

	read := serverMessage("msg_1", 1, testSelfID)
	read.Status = models.StatusRead
	a.mu.Lock()
	a.page = models.Page{Messages: []models.Message{read}}
	a.mu.Unlock()

	transport.push(testConvID, models.PushEvent{
		Type:           models.EventMessagesRead,
		ConversationID: testConvID,
	})

	require.Eventually(t, func() bool {
		msgs, err := s.Messages(ctx)
		if err != nil {
			return false
		}
		return messageByID(t, msgs, "msg_1").Status == models.StatusRead
	}, 2*time.Second, 10*time.Millisecond)
}

var _ api.Client = (*fakeAPI)(nil)
var _ realtime.Transport = (*fakeTransport)(nil)
