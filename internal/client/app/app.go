// Package app assembles the engine from its parts: the REST client, the
// NATS push channel, the plaintext cache database and the pending-op
// tracker are built once and shared by every open conversation.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/chatline/internal/client/api"
	"github.com/dmitrijs2005/chatline/internal/client/config"
	"github.com/dmitrijs2005/chatline/internal/client/decrypt"
	"github.com/dmitrijs2005/chatline/internal/client/pending"
	"github.com/dmitrijs2005/chatline/internal/client/realtime"
	"github.com/dmitrijs2005/chatline/internal/client/repositories/plaintexts"
	"github.com/dmitrijs2005/chatline/internal/client/services"
	"github.com/dmitrijs2005/chatline/internal/logging"

	_ "modernc.org/sqlite"
)

// Build is stamped via -ldflags at release time and travels with every
// request so the server can reject clients it no longer speaks to.
var Build = "dev"

// App owns the shared infrastructure of a client session.
type App struct {
	cfg      *config.Config
	log      logging.Logger
	db       *sql.DB
	api      *api.HTTPClient
	natsconn *realtime.NatsTransport
	registry *realtime.Registry
	tracker  *pending.Tracker
	store    plaintexts.Repository
}

// NewApp connects the shared infrastructure. Tokens are set separately via
// SetTokens once the caller has authenticated.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	db, err := sql.Open("sqlite", cfg.PlaintextDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening plaintext cache: %w", err)
	}
	if err := plaintexts.InitSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing plaintext cache: %w", err)
	}

	transport, err := realtime.NewNatsTransport(cfg.NatsURL, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting push channel: %w", err)
	}

	return &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		api:      api.NewHTTPClient(cfg.ServerAddr, Build, "", "", log),
		natsconn: transport,
		registry: realtime.NewRegistry(transport),
		tracker:  pending.New(cfg.PendingGrace),
		store:    plaintexts.NewSQLiteRepository(db),
	}, nil
}

// SetTokens installs the session credentials on the REST client.
func (a *App) SetTokens(access, refresh string) {
	a.api.SetTokens(access, refresh)
}

// OpenConversation builds the engine for one conversation. dec decrypts
// incoming envelopes and enc seals outgoing ones; both may be nil for
// conversations without E2E enabled.
func (a *App) OpenConversation(ctx context.Context, conversationID, selfID string, dec decrypt.Decrypter, enc services.Encrypter, opts ...ConversationOption) (*services.ConversationService, error) {
	d := services.Deps{
		ConversationID: conversationID,
		SelfID:         selfID,
		API:            a.api,
		Registry:       a.registry,
		Pipeline:       decrypt.New(conversationID, selfID, dec, a.api, a.store, a.log),
		Tracker:        a.tracker,
		Encrypter:      enc,
		Logger:         a.log,
		PageSize:       a.cfg.PageSize,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return services.NewConversation(ctx, d)
}

// ConversationOption tweaks the wiring of one conversation.
type ConversationOption func(*services.Deps)

// WithTypingHandler delivers typing indicators to fn.
func WithTypingHandler(fn func(userID string)) ConversationOption {
	return func(d *services.Deps) { d.OnTyping = fn }
}

// WithUnreadInvalidate runs fn when a read receipt arrives.
func WithUnreadInvalidate(fn func()) ConversationOption {
	return func(d *services.Deps) { d.OnUnreadInvalidate = fn }
}

// ClearLocalCache wipes cached plaintexts, e.g. on logout.
func (a *App) ClearLocalCache(ctx context.Context) error {
	return a.store.ClearAll(ctx)
}

// Close releases shared resources. Conversations opened through the app
// must be closed first.
func (a *App) Close() {
	a.tracker.Close()
	a.natsconn.Close()
	_ = a.api.Close()
	_ = a.db.Close()
}
