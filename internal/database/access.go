package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AccessSchema creates the grant table when it does not exist.
const AccessSchema = `
CREATE TABLE IF NOT EXISTS conversation_access (
    agent_id        TEXT        NOT NULL,
    conversation_id TEXT        NOT NULL,
    granted_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (agent_id, conversation_id)
)`

const canJoinQuery = `
SELECT EXISTS (
    SELECT 1 FROM conversation_access
    WHERE agent_id = $1 AND conversation_id = $2
)`

// Querier is the subset of pgxpool.Pool the access store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccessStore answers whether an agent may join a conversation.
type AccessStore struct {
	db     Querier
	logger *slog.Logger
}

// NewAccessStore wraps db. A *pgxpool.Pool satisfies Querier.
func NewAccessStore(db Querier, logger *slog.Logger) *AccessStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessStore{
		db:     db,
		logger: logger.With("component", "access_store"),
	}
}

// EnsureSchema creates the conversation_access table.
func (s *AccessStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, AccessSchema); err != nil {
		return fmt.Errorf("create conversation_access: %w", err)
	}
	return nil
}

// CanJoin reports whether a grant row exists for the pair.
func (s *AccessStore) CanJoin(ctx context.Context, agentID, conversationID string) (bool, error) {
	if agentID == "" || conversationID == "" {
		return false, nil
	}

	var ok bool
	err := s.db.QueryRow(ctx, canJoinQuery, agentID, conversationID).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn("access lookup failed",
			"agent_id", agentID,
			"conversation_id", conversationID,
			"error", err,
		)
		return false, fmt.Errorf("query conversation_access: %w", err)
	}
	return ok, nil
}
