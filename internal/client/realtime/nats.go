package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatline/internal/client/models"
	"github.com/dmitrijs2005/chatline/internal/logging"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the NATS subject hierarchy for conversation events:
// chat.events.<conversationID>.
const SubjectPrefix = "chat.events"

// NatsTransport implements Transport over a NATS connection. Events are
// JSON-encoded models.PushEvent payloads published per conversation subject.
type NatsTransport struct {
	nc  *nats.Conn
	log logging.Logger

	mu          sync.Mutex
	onReconnect []func()
}

// NewNatsTransport connects to the given NATS URL. The client library owns
// reconnection; registered reconnect callbacks fire after each re-establish.
func NewNatsTransport(url string, log logging.Logger) (*NatsTransport, error) {
	t := &NatsTransport{log: log}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(*nats.Conn) {
			t.log.Info(context.Background(), "push transport reconnected")
			t.fireReconnect()
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			// Not surfaced to consumers: a disconnect is a gap to reconcile
			// on reconnect, not an error.
			t.log.Warn(context.Background(), "push transport disconnected", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	t.nc = nc
	return t, nil
}

func (t *NatsTransport) fireReconnect() {
	t.mu.Lock()
	fns := append([]func(){}, t.onReconnect...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// OnReconnect registers fn to run after every reconnect.
func (t *NatsTransport) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReconnect = append(t.onReconnect, fn)
}

// Subject returns the NATS subject carrying a conversation's events.
func Subject(conversationID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, conversationID)
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Subscribe delivers the conversation's events to h until Unsubscribe.
func (t *NatsTransport) Subscribe(ctx context.Context, conversationID string, h Handler) (Subscription, error) {
	subject := Subject(conversationID)
	sub, err := t.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev models.PushEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.log.Warn(ctx, "dropping malformed push event", "subject", subject, "error", err)
			return
		}
		h(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %q: %w", subject, err)
	}
	t.log.Info(ctx, "subscribed to conversation events", "subject", subject)
	return &natsSubscription{sub: sub}, nil
}

// Close tears down the NATS connection.
func (t *NatsTransport) Close() {
	if t.nc != nil {
		t.nc.Close()
	}
}
