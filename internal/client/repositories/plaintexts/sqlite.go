package plaintexts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatline/internal/common"
	"github.com/dmitrijs2005/chatline/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// InitSchema creates the plaintext cache table and its index in one
// transaction, so a partially initialized schema never survives a crash.
func InitSchema(ctx context.Context, db *sql.DB) error {
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `CREATE TABLE IF NOT EXISTS plaintexts (
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			failed INTEGER NOT NULL DEFAULT 0,
			failure_kind TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (conversation_id, message_id)
		)`
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create plaintexts table: %w", err)
		}
		query = `CREATE INDEX IF NOT EXISTS idx_plaintexts_conversation
			ON plaintexts (conversation_id)`
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create plaintexts index: %w", err)
		}
		return nil
	})
}

// Put inserts the entry unless the message id is already cached. Cached
// results are write-once, so conflicts are ignored rather than updated.
func (r *SQLiteRepository) Put(ctx context.Context, conversationID string, e *Entry) error {
	query := `INSERT INTO plaintexts (conversation_id, message_id, content, failed, failure_kind)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, message_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		conversationID, e.MessageID, e.Content, e.Failed, string(e.FailureKind))
	if err != nil {
		return fmt.Errorf("failed to insert plaintext: %w", err)
	}
	return nil
}

// Get returns the cached entry for a message, or common.ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, conversationID, messageID string) (*Entry, error) {
	query := `SELECT message_id, content, failed, failure_kind FROM plaintexts
			WHERE conversation_id = ? AND message_id = ?`
	row := r.db.QueryRowContext(ctx, query, conversationID, messageID)

	var e Entry
	var kind string
	if err := row.Scan(&e.MessageID, &e.Content, &e.Failed, &kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select plaintext: %w", err)
	}
	e.FailureKind = FailureKind(kind)
	return &e, nil
}

// Delete drops the cached entry for one message.
func (r *SQLiteRepository) Delete(ctx context.Context, conversationID, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM plaintexts WHERE conversation_id = ? AND message_id = ?`,
		conversationID, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete plaintext: %w", err)
	}
	return nil
}

// ClearConversation drops all cached entries for one conversation.
func (r *SQLiteRepository) ClearConversation(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM plaintexts WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to clear conversation plaintexts: %w", err)
	}
	return nil
}

// ClearAll drops every cached entry.
func (r *SQLiteRepository) ClearAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM plaintexts`); err != nil {
		return fmt.Errorf("failed to clear plaintexts: %w", err)
	}
	return nil
}
