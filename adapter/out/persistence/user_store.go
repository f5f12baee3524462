// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailsift_server/core/domain"
)

// UserStore implements out.UserRepository using PostgreSQL.
type UserStore struct {
	db *sqlx.DB
}

// NewUserStore creates a new UserStore.
func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// userRow represents the database row for users.
type userRow struct {
	ID               uuid.UUID      `db:"id"`
	Email            string         `db:"email"`
	Name             sql.NullString `db:"name"`
	Image            sql.NullString `db:"image"`
	MailboxConnected bool           `db:"mailbox_connected"`
	RefreshToken     sql.NullString `db:"refresh_token"`
	AccessToken      sql.NullString `db:"access_token"`
	TokenExpiry      sql.NullTime   `db:"token_expiry"`
	HistoryID        sql.NullString `db:"history_id"`
	WatchExpiry      sql.NullTime   `db:"watch_expiry"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r *userRow) toEntity() *domain.User {
	user := &domain.User{
		ID:               r.ID,
		Email:            r.Email,
		MailboxConnected: r.MailboxConnected,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}

	if r.Name.Valid {
		user.Name = &r.Name.String
	}
	if r.Image.Valid {
		user.Image = &r.Image.String
	}
	if r.RefreshToken.Valid {
		user.RefreshToken = &r.RefreshToken.String
	}
	if r.AccessToken.Valid {
		user.AccessToken = &r.AccessToken.String
	}
	if r.TokenExpiry.Valid {
		user.TokenExpiry = &r.TokenExpiry.Time
	}
	if r.HistoryID.Valid {
		user.HistoryID = &r.HistoryID.String
	}
	if r.WatchExpiry.Valid {
		user.WatchExpiry = &r.WatchExpiry.Time
	}

	return user
}

// GetByID retrieves a user by id.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var row userRow
	query := `SELECT * FROM users WHERE id = $1`

	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return row.toEntity(), nil
}

// GetByEmail retrieves a user by mailbox address.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var row userRow
	query := `SELECT * FROM users WHERE LOWER(email) = LOWER($1)`

	if err := s.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return row.toEntity(), nil
}

// Upsert inserts the user or refreshes profile fields on email conflict.
func (s *UserStore) Upsert(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, name, image, mailbox_connected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE
		SET name = COALESCE(EXCLUDED.name, users.name),
		    image = COALESCE(EXCLUDED.image, users.image),
		    updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Image, user.MailboxConnected); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// SaveTokens stores sealed token material and flips the connected flag.
func (s *UserStore) SaveTokens(ctx context.Context, id uuid.UUID, refreshToken, accessToken *string, expiry *time.Time, connected bool) error {
	query := `
		UPDATE users
		SET refresh_token = $2,
		    access_token = $3,
		    token_expiry = $4,
		    mailbox_connected = $5,
		    updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, refreshToken, accessToken, expiry, connected)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveCursor advances the sync cursor. Last writer wins.
func (s *UserStore) SaveCursor(ctx context.Context, id uuid.UUID, historyID string) error {
	query := `UPDATE users SET history_id = $2, updated_at = NOW() WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id, historyID); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// SaveWatch records push watch state; a nil expiry clears the watch.
func (s *UserStore) SaveWatch(ctx context.Context, id uuid.UUID, expiry *time.Time, historyID *string) error {
	query := `
		UPDATE users
		SET watch_expiry = $2,
		    history_id = COALESCE($3, history_id),
		    updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, expiry, historyID)
	if err != nil {
		return fmt.Errorf("failed to save watch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListConnected returns users whose mailbox link is live.
func (s *UserStore) ListConnected(ctx context.Context) ([]*domain.User, error) {
	var rows []userRow
	query := `SELECT * FROM users WHERE mailbox_connected = TRUE ORDER BY email`

	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list connected users: %w", err)
	}

	users := make([]*domain.User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].toEntity())
	}
	return users, nil
}

// ListWatchRenewals returns connected users whose watch expires before the
// deadline, including users with no watch registered yet.
func (s *UserStore) ListWatchRenewals(ctx context.Context, deadline time.Time) ([]*domain.User, error) {
	var rows []userRow
	query := `
		SELECT * FROM users
		WHERE mailbox_connected = TRUE
		  AND (watch_expiry IS NULL OR watch_expiry < $1)
		ORDER BY watch_expiry ASC NULLS FIRST`

	if err := s.db.SelectContext(ctx, &rows, query, deadline); err != nil {
		return nil, fmt.Errorf("failed to list watch renewals: %w", err)
	}

	users := make([]*domain.User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].toEntity())
	}
	return users, nil
}

// CountActiveWatches counts live watches for the gauge.
func (s *UserStore) CountActiveWatches(ctx context.Context, now time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM users
		WHERE mailbox_connected = TRUE AND watch_expiry > $1`

	if err := s.db.GetContext(ctx, &count, query, now); err != nil {
		return 0, fmt.Errorf("failed to count watches: %w", err)
	}
	return count, nil
}
