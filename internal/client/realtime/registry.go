package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/chatline/internal/client/models"
)

// Registry is a reference-counted subscription multiplexer. The first
// consumer of a conversation attaches the single underlying transport
// subscription; later consumers share it; the last one to leave detaches
// it. Without this, two open views of one conversation would register two
// transport listeners and double-apply every push event.
type Registry struct {
	transport Transport

	mu    sync.Mutex
	feeds map[string]*feed

	recMu     sync.Mutex
	recFns    map[int]func()
	nextRecID int
	recOnce   sync.Once
}

type feed struct {
	sub      Subscription
	handlers map[int]Handler
	nextID   int
}

func NewRegistry(transport Transport) *Registry {
	return &Registry{
		transport: transport,
		feeds:     make(map[string]*feed),
		recFns:    make(map[int]func()),
	}
}

// Subscribe adds h as a consumer of the conversation's events and returns a
// cancel function. Handlers fan out in registration order.
func (r *Registry) Subscribe(ctx context.Context, conversationID string, h Handler) (cancel func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.feeds[conversationID]
	if !ok {
		f = &feed{handlers: make(map[int]Handler)}
		sub, err := r.transport.Subscribe(ctx, conversationID, r.dispatcher(conversationID))
		if err != nil {
			return nil, err
		}
		f.sub = sub
		r.feeds[conversationID] = f
	}

	id := f.nextID
	f.nextID++
	f.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(conversationID, id) })
	}, nil
}

// OnReconnect registers fn to run after the underlying transport
// re-establishes its connection, and returns a detach function. The
// registry keeps a single transport callback of its own, so detached
// consumers leave nothing behind on the connection.
func (r *Registry) OnReconnect(fn func()) (detach func()) {
	r.recOnce.Do(func() {
		r.transport.OnReconnect(r.fireReconnect)
	})

	r.recMu.Lock()
	id := r.nextRecID
	r.nextRecID++
	r.recFns[id] = fn
	r.recMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.recMu.Lock()
			delete(r.recFns, id)
			r.recMu.Unlock()
		})
	}
}

// fireReconnect snapshots the callback list under the lock, then runs the
// callbacks without it, so one may detach itself or register a new one.
func (r *Registry) fireReconnect() {
	r.recMu.Lock()
	ids := make([]int, 0, len(r.recFns))
	for id := range r.recFns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.recFns[id])
	}
	r.recMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Count reports how many consumers a conversation currently has.
func (r *Registry) Count(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[conversationID]
	if !ok {
		return 0
	}
	return len(f.handlers)
}

// dispatcher builds the one transport-facing handler for a conversation.
// It snapshots the consumer list under the lock, then fans out without it,
// so a handler may itself subscribe or unsubscribe.
func (r *Registry) dispatcher(conversationID string) Handler {
	return func(ev models.PushEvent) {
		r.mu.Lock()
		f, ok := r.feeds[conversationID]
		if !ok {
			r.mu.Unlock()
			return
		}
		ids := make([]int, 0, len(f.handlers))
		for id := range f.handlers {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		handlers := make([]Handler, 0, len(ids))
		for _, id := range ids {
			handlers = append(handlers, f.handlers[id])
		}
		r.mu.Unlock()

		for _, h := range handlers {
			h(ev)
		}
	}
}

func (r *Registry) unsubscribe(conversationID string, id int) {
	r.mu.Lock()
	f, ok := r.feeds[conversationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(f.handlers, id)
	var sub Subscription
	if len(f.handlers) == 0 {
		sub = f.sub
		delete(r.feeds, conversationID)
	}
	r.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
}
