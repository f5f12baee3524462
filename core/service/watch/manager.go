// Package watch manages per-mailbox push subscriptions: registration,
// teardown, and the renewal sweep that keeps watches from lapsing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/mailbox"
	"mailsift_server/pkg/metrics"
)

// RenewalHorizon selects watches for the sweep: anything expiring inside
// this window is renewed early rather than risked.
const RenewalHorizon = 48 * time.Hour

// Status is the admin view of one user's watch.
type Status struct {
	Active     bool       `json:"active"`
	Cursor     *string    `json:"cursor,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	HumanDelta string     `json:"humanDelta"`
}

// SweepResult reports one renewal sweep.
type SweepResult struct {
	Renewed int      `json:"renewed"`
	Errors  []string `json:"errors"`
}

// Manager implements the watch lifecycle.
type Manager struct {
	users   out.UserRepository
	clients mailbox.ClientFactory
	topic   string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewManager wires the manager. project and topic name the push target
// the provider publishes mailbox changes to.
func NewManager(users out.UserRepository, clients mailbox.ClientFactory, project, topic string, m *metrics.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		users:   users,
		clients: clients,
		topic:   fmt.Sprintf("projects/%s/topics/%s", project, topic),
		metrics: m,
		log:     log.With().Str("component", "watch").Logger(),
	}
}

// Start registers a push watch and persists the returned cursor and
// expiry on the user.
func (m *Manager) Start(ctx context.Context, userID uuid.UUID) (*Status, error) {
	client, err := m.clients.ClientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := client.RegisterPushWatch(ctx, m.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to register watch: %w", err)
	}

	expiry := result.Expiry.UTC()
	if err := m.users.SaveWatch(ctx, userID, &expiry, &result.HistoryID); err != nil {
		return nil, fmt.Errorf("failed to persist watch state: %w", err)
	}

	m.log.Info().
		Str("user_id", userID.String()).
		Str("cursor", result.HistoryID).
		Time("expires_at", expiry).
		Msg("push watch registered")

	m.refreshGauge(ctx)
	return &Status{
		Active:     true,
		Cursor:     &result.HistoryID,
		ExpiresAt:  &expiry,
		HumanDelta: humanDelta(time.Until(expiry)),
	}, nil
}

// Stop tears the watch down. Persisted watch state is cleared even when
// the provider call fails, so Stop is safe to repeat and safe to run for
// a watch the provider already dropped.
func (m *Manager) Stop(ctx context.Context, userID uuid.UUID) error {
	client, clientErr := m.clients.ClientFor(ctx, userID)
	if clientErr == nil {
		if err := client.StopPushWatch(ctx); err != nil {
			m.log.Warn().Err(err).Str("user_id", userID.String()).
				Msg("provider rejected watch stop, clearing local state anyway")
		}
	} else if !errors.Is(clientErr, mailbox.ErrNotConnected) {
		m.log.Warn().Err(clientErr).Str("user_id", userID.String()).
			Msg("no mailbox client for watch stop, clearing local state anyway")
	}

	if err := m.users.SaveWatch(ctx, userID, nil, nil); err != nil {
		return fmt.Errorf("failed to clear watch state: %w", err)
	}

	m.refreshGauge(ctx)
	return nil
}

// Renew is stop-then-start. Provider watch registration is idempotent
// per topic but the explicit stop keeps expiry bookkeeping exact.
func (m *Manager) Renew(ctx context.Context, userID uuid.UUID) (*Status, error) {
	if err := m.Stop(ctx, userID); err != nil {
		return nil, err
	}
	return m.Start(ctx, userID)
}

// StatusFor reads the persisted watch state.
func (m *Manager) StatusFor(ctx context.Context, userID uuid.UUID) (*Status, error) {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, mailbox.ErrUserMissing
		}
		return nil, err
	}

	status := &Status{
		Active: user.WatchActive(time.Now()),
		Cursor: user.HistoryID,
	}
	if user.WatchExpiry != nil {
		expiry := user.WatchExpiry.UTC()
		status.ExpiresAt = &expiry
		status.HumanDelta = humanDelta(time.Until(expiry))
	} else {
		status.HumanDelta = "none"
	}
	return status, nil
}

// Sweep renews every connected user whose watch expires inside the
// horizon. Per-user failures are collected, never fatal; a mailbox whose
// grant lapsed must not block its neighbours.
func (m *Manager) Sweep(ctx context.Context) (*SweepResult, error) {
	users, err := m.users.ListWatchRenewals(ctx, time.Now().Add(RenewalHorizon))
	if err != nil {
		return nil, fmt.Errorf("failed to select watches for renewal: %w", err)
	}

	result := &SweepResult{Errors: []string{}}
	for _, user := range users {
		if _, err := m.Renew(ctx, user.ID); err != nil {
			m.log.Error().Err(err).
				Str("user_id", user.ID.String()).
				Str("email", user.Email).
				Msg("watch renewal failed")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", user.Email, err))
			continue
		}
		result.Renewed++
	}

	m.log.Info().
		Int("candidates", len(users)).
		Int("renewed", result.Renewed).
		Int("failed", len(result.Errors)).
		Msg("watch sweep completed")

	m.refreshGauge(ctx)
	return result, nil
}

// refreshGauge re-counts live watches after any state change.
func (m *Manager) refreshGauge(ctx context.Context) {
	count, err := m.users.CountActiveWatches(ctx, time.Now())
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to count active watches")
		return
	}
	m.metrics.ActiveWatches.Set(float64(count))
}

// humanDelta renders a duration as "2d13h" style, negative when the
// expiry has passed.
func humanDelta(d time.Duration) string {
	prefix := ""
	if d < 0 {
		prefix = "-"
		d = -d
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%s%dd%dh", prefix, days, hours)
	case hours > 0:
		return fmt.Sprintf("%s%dh%dm", prefix, hours, minutes)
	default:
		return fmt.Sprintf("%s%dm", prefix, minutes)
	}
}
