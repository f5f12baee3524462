package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/apperr"
	"mailsift_server/pkg/response"
)

// DocumentHandler serves the extraction archive.
type DocumentHandler struct {
	docs out.ExtractionRepository
	log  zerolog.Logger
}

// NewDocumentHandler wires the handler.
func NewDocumentHandler(docs out.ExtractionRepository, log zerolog.Logger) *DocumentHandler {
	return &DocumentHandler{
		docs: docs,
		log:  log.With().Str("component", "documents").Logger(),
	}
}

// List is GET /api/documents?userId&status&limit.
func (h *DocumentHandler) List(c *fiber.Ctx) error {
	filter := out.ListFilter{
		Status: c.Query("status"),
		Limit:  response.Limit(c, 50, 500),
	}
	if raw := c.Query("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.InvalidInput("userId", "must be a UUID")
		}
		filter.UserID = &id
	}

	docs, err := h.docs.ListRecent(c.Context(), filter)
	if err != nil {
		return apperr.DatabaseError("list documents", err)
	}
	return c.JSON(docs)
}

// Get is GET /api/documents/:id.
func (h *DocumentHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.InvalidInput("id", "must be a UUID")
	}

	doc, err := h.docs.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperr.NotFound("document")
		}
		return apperr.DatabaseError("get document", err)
	}
	return c.JSON(doc)
}

// Stats is GET /api/stats?userId.
func (h *DocumentHandler) Stats(c *fiber.Ctx) error {
	var userID *uuid.UUID
	if raw := c.Query("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.InvalidInput("userId", "must be a UUID")
		}
		userID = &id
	}

	stats, err := h.docs.Stats(c.Context(), userID)
	if err != nil {
		return apperr.DatabaseError("compute stats", err)
	}
	return c.JSON(fiber.Map{
		"total":         stats.TotalDocuments,
		"completed":     stats.Completed,
		"errors":        stats.Failed,
		"avgConfidence": stats.AvgConfidence,
	})
}

// Delete is DELETE /api/documents/:id.
func (h *DocumentHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.InvalidInput("id", "must be a UUID")
	}

	if err := h.docs.Delete(c.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperr.NotFound("document")
		}
		return apperr.DatabaseError("delete document", err)
	}

	h.log.Info().Str("document_id", id.String()).Msg("document deleted")
	return c.JSON(fiber.Map{"success": true, "message": "document deleted"})
}

// DeleteBatch is POST /api/documents/delete-batch.
func (h *DocumentHandler) DeleteBatch(c *fiber.Ctx) error {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if len(body.IDs) == 0 {
		return apperr.BadRequest("ids must not be empty")
	}

	ids := make([]uuid.UUID, 0, len(body.IDs))
	for _, raw := range body.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.InvalidInput("ids", "every id must be a UUID")
		}
		ids = append(ids, id)
	}

	count, err := h.docs.DeleteMany(c.Context(), ids)
	if err != nil {
		return apperr.DatabaseError("delete documents", err)
	}

	h.log.Info().Int("deleted", count).Msg("documents batch deleted")
	return c.JSON(fiber.Map{"success": true, "deletedCount": count})
}
