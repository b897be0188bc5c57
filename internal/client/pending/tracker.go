// Package pending tracks locally initiated mutations that are still in
// flight, so the push dispatcher can recognize and suppress their echoes.
package pending

import (
	"sync"
	"time"
)

// Kind enumerates the mutation kinds whose echoes are suppressed.
type Kind string

const (
	KindSend     Kind = "send"
	KindEdit     Kind = "edit"
	KindDelete   Kind = "delete"
	KindReaction Kind = "reaction"
)

// Action distinguishes reaction adds from removes.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Op identifies one outstanding mutation. Emoji and Action are set only for
// reactions; a comparable struct so it can key a map directly.
type Op struct {
	Kind      Kind
	MessageID string
	Emoji     string
	Action    Action
}

// DefaultTTL bounds how long a marker survives without an explicit End.
// It guards against a network call that never resolves (e.g. a suspended
// tab) leaving a permanent suppression that would swallow a legitimate
// later push event for the same message.
const DefaultTTL = 10 * time.Second

// Tracker is a constructor-injected set of in-flight operation markers with
// TTL expiry. It is never shared between conversations.
type Tracker struct {
	mu      sync.Mutex
	entries map[Op]time.Time // expiry deadline per op
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a tracker with the given TTL (DefaultTTL if zero) and starts
// its expiry sweep.
func New(ttl time.Duration) *Tracker {
	t := newWithClock(ttl, time.Now)
	go t.sweep()
	return t
}

// newWithClock builds a tracker without the background sweep; expiry is
// still enforced lazily on every IsPending. Tests inject a fake clock here.
func newWithClock(ttl time.Duration, now func() time.Time) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		entries: make(map[Op]time.Time),
		ttl:     ttl,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Begin marks op as in flight. Calling Begin again refreshes the deadline.
func (t *Tracker) Begin(op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[op] = t.now().Add(t.ttl)
}

// End clears the marker. Called when the network call resolves, success or
// failure — never when the echo arrives, since the echo may beat the local
// confirmation.
func (t *Tracker) End(op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, op)
}

// IsPending reports whether op is in flight and not yet expired.
func (t *Tracker) IsPending(op Op) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := t.entries[op]
	if !ok {
		return false
	}
	if t.now().After(deadline) {
		delete(t.entries, op)
		return false
	}
	return true
}

// IsMessagePending reports whether any unexpired operation targets the
// message, regardless of kind. Reconciliation uses it to leave entries
// owned by an in-flight mutation alone.
func (t *Tracker) IsMessagePending(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for op, deadline := range t.entries {
		if op.MessageID != messageID {
			continue
		}
		if now.After(deadline) {
			delete(t.entries, op)
			continue
		}
		return true
	}
	return false
}

// Close stops the expiry sweep. Safe to call more than once.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.stop) })
}

func (t *Tracker) sweep() {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			now := t.now()
			for op, deadline := range t.entries {
				if now.After(deadline) {
					delete(t.entries, op)
				}
			}
			t.mu.Unlock()
		}
	}
}
