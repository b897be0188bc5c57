// Package decrypt turns ciphertext message bodies into plaintext before
// anything reaches a consumer. It layers two caches (process memory and the
// persisted plaintexts store) over the actual ciphers, and guarantees that
// pairwise-ratchet messages are decrypted in strict timeline order: each
// successful decryption advances shared chain state that the next message
// depends on, so a whole batch runs under one mutex as a sequential loop.
package decrypt

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/chatline/internal/client/models"
	"github.com/dmitrijs2005/chatline/internal/client/repositories/plaintexts"
	"github.com/dmitrijs2005/chatline/internal/common"
	"github.com/dmitrijs2005/chatline/internal/cryptox"
	"github.com/dmitrijs2005/chatline/internal/logging"
)

// Placeholders shown instead of a body that cannot be decrypted. They are
// stable so the same message always renders the same way.
const (
	PlaceholderFailed      = "[Encrypted message]"
	PlaceholderUnsupported = "[Message from an old app version]"
)

// Decrypter opens one wire envelope for this conversation. Implementations
// wrap cryptox.Ratchet (direct chats) or cryptox.SenderKey (groups).
type Decrypter interface {
	Decrypt(env cryptox.Envelope) ([]byte, error)
}

// KeyBackup recovers the author's own message bodies. A ratchet only moves
// forward per recipient, so a sender cannot decrypt their own ciphertext;
// the server-held key backup (or the plaintext cached at send time) is the
// only way back.
type KeyBackup interface {
	FetchOwnPlaintext(ctx context.Context, conversationID, messageID string) (string, error)
}

type memEntry struct {
	content string
	failed  bool
	kind    plaintexts.FailureKind
	// recovery marks an own-message backup failure. It is never persisted,
	// so the next session retries the backup lookup.
	recovery bool
}

// Pipeline resolves encrypted messages for a single conversation.
type Pipeline struct {
	conversationID string
	selfID         string
	dec            Decrypter
	backup         KeyBackup
	store          plaintexts.Repository
	log            logging.Logger

	// mu serializes every decryption for this conversation. Holding it
	// across a whole batch is what makes ratchet ordering structural: there
	// is no way to fan the loop out without removing the lock.
	mu  sync.Mutex
	mem map[string]memEntry
}

func New(conversationID, selfID string, dec Decrypter, backup KeyBackup, store plaintexts.Repository, log logging.Logger) *Pipeline {
	return &Pipeline{
		conversationID: conversationID,
		selfID:         selfID,
		dec:            dec,
		backup:         backup,
		store:          store,
		log:            log.With("conversation_id", conversationID),
		mem:            make(map[string]memEntry),
	}
}

// Resolve processes a batch in the order given, sequentially, and returns
// the messages with Content replaced by plaintext or a placeholder. Callers
// must pass direct-chat batches in timeline order.
func (p *Pipeline) Resolve(ctx context.Context, msgs []models.Message) []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = p.resolveOne(ctx, m)
	}
	return out
}

// CacheOwnPlaintext records the plaintext of a message the local user just
// sent, in both tiers. The sender already has it; it must never be
// re-decrypted. An existing entry is replaced, so confirming an edit
// overwrites the pre-edit body.
func (p *Pipeline) CacheOwnPlaintext(ctx context.Context, messageID, content string) {
	p.mu.Lock()
	p.mem[messageID] = memEntry{content: content}
	p.mu.Unlock()

	if err := p.store.Delete(ctx, p.conversationID, messageID); err != nil {
		p.log.Warn(ctx, "failed to replace own plaintext", "message_id", messageID, "error", err)
	}
	err := p.store.Put(ctx, p.conversationID, &plaintexts.Entry{MessageID: messageID, Content: content})
	if err != nil {
		p.log.Warn(ctx, "failed to persist own plaintext", "message_id", messageID, "error", err)
	}
}

// Forget drops both cache tiers for one message. Called when the server
// replaces a body (an edit), so the stale plaintext is never substituted
// for the new ciphertext.
func (p *Pipeline) Forget(ctx context.Context, messageID string) {
	p.mu.Lock()
	delete(p.mem, messageID)
	p.mu.Unlock()

	if err := p.store.Delete(ctx, p.conversationID, messageID); err != nil {
		p.log.Warn(ctx, "failed to drop cached plaintext", "message_id", messageID, "error", err)
	}
}

func (p *Pipeline) resolveOne(ctx context.Context, m models.Message) models.Message {
	if !m.Encrypted {
		return m
	}

	if e, ok := p.mem[m.ID]; ok {
		return p.substitute(m, e)
	}

	if stored, err := p.store.Get(ctx, p.conversationID, m.ID); err == nil {
		e := memEntry{content: stored.Content, failed: stored.Failed, kind: stored.FailureKind}
		p.mem[m.ID] = e
		return p.substitute(m, e)
	} else if !errors.Is(err, common.ErrNotFound) {
		p.log.Warn(ctx, "plaintext store lookup failed", "message_id", m.ID, "error", err)
	}

	if m.SenderID == p.selfID {
		return p.recoverOwn(ctx, m)
	}

	return p.attempt(ctx, m)
}

// recoverOwn resolves the local user's own ciphertext via the key backup.
// On failure it falls back to the generic placeholder without ever reaching
// the ratchet: attempting a normal decryption of our own message would
// consume a chain position that belongs to the recipient's view.
func (p *Pipeline) recoverOwn(ctx context.Context, m models.Message) models.Message {
	if p.backup != nil {
		content, err := p.backup.FetchOwnPlaintext(ctx, p.conversationID, m.ID)
		if err == nil {
			p.cacheSuccess(ctx, m.ID, content)
			return p.substitute(m, memEntry{content: content})
		}
		p.log.Warn(ctx, "own-message recovery failed", "message_id", m.ID, "error", err)
	}

	// Memory tier only: the backup lookup is idempotent and may succeed in
	// a later session, unlike a burned ratchet position.
	e := memEntry{failed: true, kind: plaintexts.FailureGeneric, recovery: true}
	p.mem[m.ID] = e
	return p.substitute(m, e)
}

func (p *Pipeline) attempt(ctx context.Context, m models.Message) models.Message {
	if p.dec == nil {
		// No cipher for this conversation yet. Memory tier only, so the
		// message is retried once keys arrive in a later session.
		e := memEntry{failed: true, kind: plaintexts.FailureGeneric}
		p.mem[m.ID] = e
		return p.substitute(m, e)
	}

	env, err := cryptox.ParseEnvelope(m.Content)
	if err != nil {
		return p.cacheFailure(ctx, m, plaintexts.FailureUnsupported)
	}

	plaintext, err := p.dec.Decrypt(env)
	if err != nil {
		if errors.Is(err, common.ErrRatchetOutOfOrder) {
			// The ratchet rejected the position without consuming it, so an
			// in-order pass can still succeed (e.g. once a transport gap is
			// reconciled). Not cached in either tier.
			p.log.Warn(ctx, "message ahead of chain position, not cached", "message_id", m.ID, "error", err)
			return p.substitute(m, memEntry{failed: true, kind: plaintexts.FailureGeneric})
		}
		kind := plaintexts.FailureGeneric
		if errors.Is(err, common.ErrUnsupportedCiphertext) {
			kind = plaintexts.FailureUnsupported
		}
		p.log.Warn(ctx, "decryption failed", "message_id", m.ID, "error", err)
		return p.cacheFailure(ctx, m, kind)
	}

	content := string(plaintext)
	p.cacheSuccess(ctx, m.ID, content)
	return p.substitute(m, memEntry{content: content})
}

func (p *Pipeline) cacheSuccess(ctx context.Context, messageID, content string) {
	p.mem[messageID] = memEntry{content: content}
	err := p.store.Put(ctx, p.conversationID, &plaintexts.Entry{MessageID: messageID, Content: content})
	if err != nil {
		p.log.Warn(ctx, "failed to persist plaintext", "message_id", messageID, "error", err)
	}
}

func (p *Pipeline) cacheFailure(ctx context.Context, m models.Message, kind plaintexts.FailureKind) models.Message {
	e := memEntry{failed: true, kind: kind}
	p.mem[m.ID] = e
	err := p.store.Put(ctx, p.conversationID, &plaintexts.Entry{MessageID: m.ID, Failed: true, FailureKind: kind})
	if err != nil {
		p.log.Warn(ctx, "failed to persist failure marker", "message_id", m.ID, "error", err)
	}
	return p.substitute(m, e)
}

func (p *Pipeline) substitute(m models.Message, e memEntry) models.Message {
	m.Encrypted = false
	if !e.failed {
		m.Content = e.content
		return m
	}
	if e.kind == plaintexts.FailureUnsupported {
		m.Content = PlaceholderUnsupported
	} else {
		m.Content = PlaceholderFailed
	}
	return m
}
