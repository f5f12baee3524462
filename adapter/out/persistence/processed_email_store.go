package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"mailsift_server/core/domain"
)

// pgUniqueViolation is the Postgres error code for unique constraint hits.
const pgUniqueViolation = "23505"

// ProcessedEmailStore implements out.ProcessedEmailRepository using PostgreSQL.
type ProcessedEmailStore struct {
	db *sqlx.DB
}

// NewProcessedEmailStore creates a new ProcessedEmailStore.
func NewProcessedEmailStore(db *sqlx.DB) *ProcessedEmailStore {
	return &ProcessedEmailStore{db: db}
}

// IsProcessed reports whether the message was already claimed.
func (s *ProcessedEmailStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM processed_emails WHERE message_id = $1)`

	if err := s.db.GetContext(ctx, &exists, query, messageID); err != nil {
		return false, fmt.Errorf("failed to check processed email: %w", err)
	}
	return exists, nil
}

// Mark claims the message. The primary key makes concurrent claims settle
// on one winner; losers get domain.ErrAlreadyProcessed.
func (s *ProcessedEmailStore) Mark(ctx context.Context, rec *domain.ProcessedEmail) error {
	query := `
		INSERT INTO processed_emails (message_id, user_id, processed_at)
		VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, rec.MessageID, rec.UserID, rec.ProcessedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to mark processed email: %w", err)
	}
	return nil
}
