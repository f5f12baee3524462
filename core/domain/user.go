package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an operator-registered account whose mailbox feeds the pipeline.
// Token fields hold vault-sealed values; plaintext never reaches storage.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	Name             *string    `json:"name,omitempty"`
	Image            *string    `json:"image,omitempty"`
	MailboxConnected bool       `json:"mailbox_connected"`
	RefreshToken     *string    `json:"-"`
	AccessToken      *string    `json:"-"`
	TokenExpiry      *time.Time `json:"token_expiry,omitempty"`
	HistoryID        *string    `json:"history_id,omitempty"`
	WatchExpiry      *time.Time `json:"watch_expiry,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WatchActive reports whether the user's push watch is live at t.
func (u *User) WatchActive(t time.Time) bool {
	return u.MailboxConnected && u.WatchExpiry != nil && u.WatchExpiry.After(t)
}

// NeedsWatchRenewal reports whether the watch expires within the renewal
// horizon. Users without any watch also qualify once connected.
func (u *User) NeedsWatchRenewal(t time.Time, horizon time.Duration) bool {
	if !u.MailboxConnected {
		return false
	}
	return u.WatchExpiry == nil || u.WatchExpiry.Before(t.Add(horizon))
}
