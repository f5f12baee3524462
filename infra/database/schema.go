package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitSchema creates the persistence layout if it does not exist yet.
// Statements are idempotent so every process can run this at startup.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT,
			image TEXT,
			mailbox_connected BOOLEAN NOT NULL DEFAULT FALSE,
			refresh_token TEXT,
			access_token TEXT,
			token_expiry TIMESTAMPTZ,
			history_id TEXT,
			watch_expiry TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS extracted_documents (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			message_id TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			message_date TIMESTAMPTZ,
			filename TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT '',
			raw_text TEXT NOT NULL DEFAULT '',
			structured_data JSONB NOT NULL DEFAULT '[]',
			tables JSONB NOT NULL DEFAULT '[]',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT,
			extracted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			notified_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_extracted_documents_extracted_at
			ON extracted_documents (extracted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_extracted_documents_message
			ON extracted_documents (message_id)`,
		`CREATE TABLE IF NOT EXISTS processed_emails (
			message_id TEXT PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
