// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailsift_server/core/domain"
)

// UserRepository persists accounts and their mailbox link state.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Upsert(ctx context.Context, user *domain.User) error

	// SaveTokens stores vault-sealed token material and the connected flag.
	SaveTokens(ctx context.Context, id uuid.UUID, refreshToken, accessToken *string, expiry *time.Time, connected bool) error

	// SaveCursor advances the incremental sync cursor. Last writer wins.
	SaveCursor(ctx context.Context, id uuid.UUID, historyID string) error

	// SaveWatch records push watch state; nil expiry clears it.
	SaveWatch(ctx context.Context, id uuid.UUID, expiry *time.Time, historyID *string) error

	// ListConnected returns users whose mailbox link is live.
	ListConnected(ctx context.Context) ([]*domain.User, error)

	// ListWatchRenewals returns connected users whose watch expires before
	// the deadline or who have no watch at all.
	ListWatchRenewals(ctx context.Context, deadline time.Time) ([]*domain.User, error)

	// CountActiveWatches counts live watches for the gauge.
	CountActiveWatches(ctx context.Context, now time.Time) (int, error)
}
