package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/apperr"
)

// QueueHandler exposes queue depth for operators.
type QueueHandler struct {
	queue    out.JobQueue
	useQueue bool
	log      zerolog.Logger
}

// NewQueueHandler wires the handler. queue may be nil in direct mode.
func NewQueueHandler(queue out.JobQueue, useQueue bool, log zerolog.Logger) *QueueHandler {
	return &QueueHandler{
		queue:    queue,
		useQueue: useQueue,
		log:      log.With().Str("component", "queue_admin").Logger(),
	}
}

// Stats is GET /api/queues/stats.
func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	if !h.useQueue || h.queue == nil {
		return c.JSON(fiber.Map{"mode": "direct", "queues": fiber.Map{}})
	}

	email, err := h.queue.Counts(c.Context(), out.JobKindEmailSync)
	if err != nil {
		return apperr.ExternalError("queue", err)
	}
	attachment, err := h.queue.Counts(c.Context(), out.JobKindAttachment)
	if err != nil {
		return apperr.ExternalError("queue", err)
	}

	return c.JSON(fiber.Map{
		"mode": "queue",
		"queues": fiber.Map{
			"email":      email,
			"attachment": attachment,
		},
	})
}
