package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/mailbox"
	"mailsift_server/core/service/watch"
	"mailsift_server/pkg/apperr"
)

// WatchHandler is the push-watch admin surface.
type WatchHandler struct {
	manager *watch.Manager
	users   out.UserRepository
	log     zerolog.Logger
}

// NewWatchHandler wires the handler.
func NewWatchHandler(manager *watch.Manager, users out.UserRepository, log zerolog.Logger) *WatchHandler {
	return &WatchHandler{
		manager: manager,
		users:   users,
		log:     log.With().Str("component", "watch_admin").Logger(),
	}
}

// Start is POST /api/gmail/watch/start.
func (h *WatchHandler) Start(c *fiber.Ctx) error {
	userID, err := userIDFromBody(c)
	if err != nil {
		return err
	}

	status, err := h.manager.Start(c.Context(), userID)
	if err != nil {
		return mapWatchError(err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"historyId": status.Cursor,
		"expiresAt": status.ExpiresAt,
	})
}

// Stop is POST /api/gmail/watch/stop.
func (h *WatchHandler) Stop(c *fiber.Ctx) error {
	userID, err := userIDFromBody(c)
	if err != nil {
		return err
	}

	if err := h.manager.Stop(c.Context(), userID); err != nil {
		return mapWatchError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Status is GET /api/gmail/watch/status?userId.
func (h *WatchHandler) Status(c *fiber.Ctx) error {
	raw := c.Query("userId")
	if raw == "" {
		return apperr.InvalidInput("userId", "is required")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return apperr.InvalidInput("userId", "must be a UUID")
	}

	status, err := h.manager.StatusFor(c.Context(), userID)
	if err != nil {
		return mapWatchError(err)
	}
	return c.JSON(status)
}

// RenewAll is POST /api/gmail/watch/renew-all: run the sweep now.
func (h *WatchHandler) RenewAll(c *fiber.Ctx) error {
	result, err := h.manager.Sweep(c.Context())
	if err != nil {
		return apperr.InternalWithError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"renewed": result.Renewed,
		"errors":  result.Errors,
	})
}

// List is GET /api/gmail/watch/list: every connected user's watch state.
func (h *WatchHandler) List(c *fiber.Ctx) error {
	users, err := h.users.ListConnected(c.Context())
	if err != nil {
		return apperr.DatabaseError("list connected users", err)
	}

	now := time.Now()
	watches := make([]fiber.Map, 0, len(users))
	for _, user := range users {
		entry := fiber.Map{
			"userId": user.ID,
			"email":  user.Email,
			"active": user.WatchActive(now),
			"cursor": user.HistoryID,
		}
		if user.WatchExpiry != nil {
			entry["expiresAt"] = user.WatchExpiry.UTC()
		}
		watches = append(watches, entry)
	}

	return c.JSON(fiber.Map{"count": len(watches), "watches": watches})
}

func userIDFromBody(c *fiber.Ctx) (uuid.UUID, error) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return uuid.Nil, apperr.BadRequest("invalid request body")
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("userId", "must be a UUID")
	}
	return userID, nil
}

func mapWatchError(err error) error {
	switch {
	case errors.Is(err, mailbox.ErrUserMissing):
		return apperr.NotFound("user")
	case errors.Is(err, mailbox.ErrNotConnected):
		return apperr.MailboxNotConnected("")
	case errors.Is(err, mailbox.ErrAuth):
		return apperr.ExternalError("mailbox provider", err)
	default:
		return apperr.InternalWithError(err)
	}
}
