// Package mailbox builds authenticated per-user mailbox clients and owns
// the OAuth connect/disconnect lifecycle. Token material is sealed by the
// vault; plaintext exists only inside a constructed client.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"mailsift_server/adapter/out/provider"
	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/crypto"
)

var (
	// ErrUserMissing reports an unknown user id or email.
	ErrUserMissing = errors.New("user not found")

	// ErrNotConnected reports a user whose mailbox link is absent.
	ErrNotConnected = errors.New("mailbox not connected")

	// ErrAuth reports credentials the provider refused to refresh.
	ErrAuth = errors.New("mailbox authorization failed")
)

// refreshSkew triggers a refresh while the current access token still has
// a safety margin left, so a client never starts with a token about to die.
const refreshSkew = 60 * time.Second

// ClientFactory is what the sync and watch services need from this
// package; the concrete Factory satisfies it.
type ClientFactory interface {
	ClientFor(ctx context.Context, userID uuid.UUID) (out.MailboxClient, error)
}

// Factory implements ClientFactory over the Gmail provider.
type Factory struct {
	users   out.UserRepository
	vault   *crypto.Vault
	oauth   *oauth2.Config
	breaker *gobreaker.CircuitBreaker
	refresh singleflight.Group
	log     zerolog.Logger

	// newClient is swapped by tests to avoid real provider construction.
	newClient func(ctx context.Context, httpClient *http.Client) (out.MailboxClient, error)
}

// NewFactory wires the factory. The breaker is shared by every client the
// factory hands out.
func NewFactory(users out.UserRepository, vault *crypto.Vault, oauthCfg *oauth2.Config, breaker *gobreaker.CircuitBreaker, log zerolog.Logger) *Factory {
	f := &Factory{
		users:   users,
		vault:   vault,
		oauth:   oauthCfg,
		breaker: breaker,
		log:     log.With().Str("component", "mailbox").Logger(),
	}
	f.newClient = func(ctx context.Context, httpClient *http.Client) (out.MailboxClient, error) {
		return provider.NewClient(ctx, httpClient, breaker, f.log)
	}
	return f
}

var _ ClientFactory = (*Factory)(nil)

// ClientFor loads the user, ensures a live access token, and returns an
// authenticated client. Refreshes serialize per user so concurrent
// callers share one provider round trip.
func (f *Factory) ClientFor(ctx context.Context, userID uuid.UUID) (out.MailboxClient, error) {
	user, err := f.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserMissing, userID)
		}
		return nil, err
	}

	token, err := f.accessToken(ctx, user)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	return f.newClient(ctx, httpClient)
}

// accessToken returns a token valid past the refresh skew, refreshing and
// re-sealing when needed.
func (f *Factory) accessToken(ctx context.Context, user *domain.User) (*oauth2.Token, error) {
	if !user.MailboxConnected || user.RefreshToken == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, user.Email)
	}

	if user.AccessToken != nil && user.TokenExpiry != nil &&
		user.TokenExpiry.After(time.Now().Add(refreshSkew)) {
		access, err := f.openToken(*user.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to open access token: %w", err)
		}
		return &oauth2.Token{AccessToken: access, Expiry: *user.TokenExpiry}, nil
	}

	v, err, _ := f.refresh.Do(user.ID.String(), func() (any, error) {
		return f.refreshToken(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// openToken unseals a stored token. Rows written before encryption at
// rest hold plaintext; those pass through as-is and get sealed on the
// next refresh.
func (f *Factory) openToken(stored string) (string, error) {
	if !crypto.IsSealed(stored) {
		return stored, nil
	}
	return f.vault.Open(stored)
}

// refreshToken exchanges the sealed refresh token for a fresh access
// token and persists the sealed result.
func (f *Factory) refreshToken(ctx context.Context, user *domain.User) (*oauth2.Token, error) {
	refresh, err := f.openToken(*user.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to open refresh token: %w", err)
	}

	token, err := f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	sealedAccess, err := f.vault.Seal(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}
	sealedRefresh := *user.RefreshToken
	if token.RefreshToken != "" && token.RefreshToken != refresh {
		// Provider rotated the refresh token; keep the new one.
		if sealedRefresh, err = f.vault.Seal(token.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to seal refresh token: %w", err)
		}
	}

	expiry := token.Expiry.UTC()
	if err := f.users.SaveTokens(ctx, user.ID, &sealedRefresh, &sealedAccess, &expiry, true); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	f.log.Debug().Str("user_id", user.ID.String()).Time("expiry", expiry).Msg("access token refreshed")
	return token, nil
}

// AuthURL starts the consent flow; state carries the user id through the
// provider redirect.
func (f *Factory) AuthURL(userID uuid.UUID) string {
	return f.oauth.AuthCodeURL(userID.String(),
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Connect exchanges the callback code, seals both tokens, and marks the
// mailbox connected.
func (f *Factory) Connect(ctx context.Context, userID uuid.UUID, code string) error {
	if _, err := f.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserMissing, userID)
		}
		return err
	}

	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: code exchange rejected: %v", ErrAuth, err)
	}
	if token.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token granted", ErrAuth)
	}

	sealedRefresh, err := f.vault.Seal(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to seal refresh token: %w", err)
	}
	sealedAccess, err := f.vault.Seal(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}

	expiry := token.Expiry.UTC()
	if err := f.users.SaveTokens(ctx, userID, &sealedRefresh, &sealedAccess, &expiry, true); err != nil {
		return fmt.Errorf("failed to persist tokens: %w", err)
	}

	f.log.Info().Str("user_id", userID.String()).Msg("mailbox connected")
	return nil
}

// Disconnect drops every token field and the connected flag. Watch
// teardown is the watch manager's job and runs before this.
func (f *Factory) Disconnect(ctx context.Context, userID uuid.UUID) error {
	if err := f.users.SaveTokens(ctx, userID, nil, nil, nil, false); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	f.log.Info().Str("user_id", userID.String()).Msg("mailbox disconnected")
	return nil
}
