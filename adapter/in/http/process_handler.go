package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	"mailsift_server/core/service/ingest"
	"mailsift_server/core/service/mailbox"
	"mailsift_server/pkg/apperr"
)

// ProcessHandler drives the synchronous sync-and-extract path.
type ProcessHandler struct {
	direct *ingest.DirectService
	log    zerolog.Logger
}

// NewProcessHandler wires the handler.
func NewProcessHandler(direct *ingest.DirectService, log zerolog.Logger) *ProcessHandler {
	return &ProcessHandler{
		direct: direct,
		log:    log.With().Str("component", "process").Logger(),
	}
}

// Process is POST /api/process. It runs a full mailbox pass in this
// request and reports per-file outcomes.
func (h *ProcessHandler) Process(c *fiber.Ctx) error {
	var body struct {
		UserID *string `json:"userId"`
	}
	// An empty body means "the connected mailbox".
	_ = c.BodyParser(&body)

	userID, err := parseOptionalUserID(body.UserID)
	if err != nil {
		return err
	}

	report, err := h.direct.ProcessNow(c.Context(), userID)
	if err != nil {
		return mapIngestError(err)
	}

	h.log.Info().
		Int("emails", report.EmailsProcessed).
		Int("successful", report.Successful).
		Int("failed", report.Failed).
		Msg("manual processing completed")
	return c.JSON(report)
}

// Emails is GET /api/emails: the unread messages a processing run would
// pick up.
func (h *ProcessHandler) Emails(c *fiber.Ctx) error {
	var userID *uuid.UUID
	if raw := c.Query("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.InvalidInput("userId", "must be a UUID")
		}
		userID = &id
	}

	emails, err := h.direct.ListPending(c.Context(), userID)
	if err != nil {
		return mapIngestError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(emails),
		"emails":  emails,
	})
}

func parseOptionalUserID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, apperr.InvalidInput("userId", "must be a UUID")
	}
	return &id, nil
}

// mapIngestError converts service errors to HTTP-shaped ones.
func mapIngestError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, mailbox.ErrUserMissing):
		return apperr.NotFound("user")
	case errors.Is(err, mailbox.ErrNotConnected):
		return apperr.MailboxNotConnected("")
	case errors.Is(err, mailbox.ErrAuth):
		return apperr.ExternalError("mailbox provider", err)
	default:
		return apperr.InternalWithError(err)
	}
}
