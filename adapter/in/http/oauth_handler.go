package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/mailbox"
	"mailsift_server/core/service/watch"
	"mailsift_server/pkg/apperr"
)

// OAuthHandler owns account registration and the mailbox consent flow.
type OAuthHandler struct {
	users       out.UserRepository
	factory     *mailbox.Factory
	watches     *watch.Manager
	frontendURL string
	log         zerolog.Logger
}

// NewOAuthHandler wires the handler.
func NewOAuthHandler(users out.UserRepository, factory *mailbox.Factory, watches *watch.Manager, frontendURL string, log zerolog.Logger) *OAuthHandler {
	return &OAuthHandler{
		users:       users,
		factory:     factory,
		watches:     watches,
		frontendURL: frontendURL,
		log:         log.With().Str("component", "oauth").Logger(),
	}
}

// SyncUser is POST /api/user/sync: upsert an account by email.
func (h *OAuthHandler) SyncUser(c *fiber.Ctx) error {
	var body struct {
		Email string  `json:"email"`
		Name  *string `json:"name"`
		Image *string `json:"image"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if body.Email == "" {
		return apperr.InvalidInput("email", "is required")
	}

	user, err := h.users.GetByEmail(c.Context(), body.Email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return apperr.DatabaseError("load user", err)
	}
	if user == nil {
		user = &domain.User{
			ID:        uuid.New(),
			Email:     body.Email,
			CreatedAt: time.Now().UTC(),
		}
	}
	if body.Name != nil {
		user.Name = body.Name
	}
	if body.Image != nil {
		user.Image = body.Image
	}

	if err := h.users.Upsert(c.Context(), user); err != nil {
		return apperr.DatabaseError("upsert user", err)
	}
	return c.JSON(user)
}

// AuthURL is GET /api/auth/gmail/url?userId.
func (h *OAuthHandler) AuthURL(c *fiber.Ctx) error {
	raw := c.Query("userId")
	if raw == "" {
		return apperr.InvalidInput("userId", "is required")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return apperr.InvalidInput("userId", "must be a UUID")
	}
	return c.JSON(fiber.Map{"url": h.factory.AuthURL(userID)})
}

// Callback is GET /api/auth/gmail/callback?code&state. The browser lands
// here from the consent screen, so every outcome is a redirect back to
// the frontend rather than a JSON error.
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return h.redirectError(c, "missing_code")
	}

	userID, err := uuid.Parse(state)
	if err != nil {
		return h.redirectError(c, "bad_state")
	}

	if err := h.factory.Connect(c.Context(), userID, code); err != nil {
		h.log.Error().Err(err).Str("user_id", state).Msg("oauth connect failed")
		switch {
		case errors.Is(err, mailbox.ErrUserMissing):
			return h.redirectError(c, "unknown_user")
		case errors.Is(err, mailbox.ErrAuth):
			return h.redirectError(c, "exchange_failed")
		default:
			return h.redirectError(c, "internal")
		}
	}

	// Watch registration rides on connect so new mailboxes get push
	// notifications without an extra admin step. A failure here is not
	// fatal: the sweep retries within its horizon.
	if _, err := h.watches.Start(c.Context(), userID); err != nil {
		h.log.Warn().Err(err).Str("user_id", state).Msg("auto watch start failed")
	}

	return c.Redirect(h.frontendURL+"?gmail=connected", fiber.StatusFound)
}

// Disconnect is POST /api/auth/gmail/disconnect.
func (h *OAuthHandler) Disconnect(c *fiber.Ctx) error {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		return apperr.InvalidInput("userId", "must be a UUID")
	}

	// Stop the watch while credentials still work, then drop the tokens.
	if err := h.watches.Stop(c.Context(), userID); err != nil {
		h.log.Warn().Err(err).Str("user_id", body.UserID).Msg("watch stop during disconnect failed")
	}
	if err := h.factory.Disconnect(c.Context(), userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperr.NotFound("user")
		}
		return apperr.InternalWithError(err)
	}

	return c.JSON(fiber.Map{"success": true})
}

func (h *OAuthHandler) redirectError(c *fiber.Ctx, reason string) error {
	return c.Redirect(h.frontendURL+"?gmail=error&reason="+reason, fiber.StatusFound)
}
