package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation or message row does not exist (or is
// soft-deleted, for conversations).
var ErrNotFound = errors.New("store: not found")

// Conversation mirrors the Conversation entity of the data model.
type Conversation struct {
	ID         string
	UserID     string
	SessionID  string
	Title      string
	Model      string
	ProviderID string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// CreateConversation inserts a new conversation row, generating an id if one was not
// supplied.
func (s *Store) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := nowUTC()
	c.CreatedAt, c.UpdatedAt = now, now

	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return Conversation{}, fmt.Errorf("store: marshal conversation metadata: %w", err)
	}

	_, err = s.stmtInsertConversation.ExecContext(ctx, c.ID, c.UserID, c.SessionID, c.Title, c.Model, c.ProviderID, string(metadata), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("store: insert conversation: %w", err)
	}
	return c, nil
}

// GetConversation fetches a non-deleted conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.stmtGetConversation.QueryRowContext(ctx, id)

	var c Conversation
	var metadata string
	var deletedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.UserID, &c.SessionID, &c.Title, &c.Model, &c.ProviderID, &metadata, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("store: get conversation: %w", err)
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &c.Metadata)
	}
	return c, nil
}

// Touch bumps a conversation's updated_at, used whenever a message is appended.
func (s *Store) touchConversation(ctx context.Context, tx *sql.Tx, conversationID string, at time.Time) error {
	stmt := s.stmtTouchConversation
	if tx != nil {
		stmt = tx.StmtContext(ctx, stmt)
	}
	_, err := stmt.ExecContext(ctx, at, conversationID)
	return err
}

// SoftDeleteConversation sets deleted_at for id, if not already deleted.
func (s *Store) SoftDeleteConversation(ctx context.Context, id string) error {
	_, err := s.stmtSoftDeleteConv.ExecContext(ctx, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("store: soft delete conversation: %w", err)
	}
	return nil
}

// SweepExpiredConversations soft-deletes every conversation whose updated_at is older
// than olderThan, returning the number of rows affected. This is the write side of the
// retention sweep cron job (SPEC_FULL.md §6.2).
func (s *Store) SweepExpiredConversations(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.stmtSweepConversations.ExecContext(ctx, nowUTC(), olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: sweep conversations: %w", err)
	}
	return res.RowsAffected()
}
