// Package http exposes the push webhook and the operator API.
package http

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/ingest"
	"mailsift_server/pkg/metrics"
	"mailsift_server/pkg/tracing"
)

// webhookBudget bounds the handler under the provider's 10s ack window,
// with a second to spare for the response itself.
const webhookBudget = 9 * time.Second

// pushEnvelope is the provider's Pub/Sub push wrapper.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pushPayload is the decoded mailbox-change notification. The cursor
// arrives as a string or a bare number depending on the publisher.
type pushPayload struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// WebhookHandler accepts mailbox push notifications. Its contract is to
// acknowledge fast and never make the provider retry a payload that
// cannot improve on retry: every response is a 200.
type WebhookHandler struct {
	queue    out.JobQueue
	direct   *ingest.DirectService
	useQueue bool
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewWebhookHandler wires the handler. direct is the debug path taken
// when the queue is disabled by configuration.
func NewWebhookHandler(queue out.JobQueue, direct *ingest.DirectService, useQueue bool, m *metrics.Metrics, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		queue:    queue,
		direct:   direct,
		useQueue: useQueue,
		metrics:  m,
		log:      log.With().Str("component", "webhook").Logger(),
	}
}

// HandleGmail is POST /api/webhook/gmail.
func (h *WebhookHandler) HandleGmail(c *fiber.Ctx) error {
	start := time.Now()
	defer func() {
		h.metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, span := tracing.Start(c.Context(), "webhook.receive")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, webhookBudget)
	defer cancel()

	var envelope pushEnvelope
	if err := c.BodyParser(&envelope); err != nil {
		h.log.Warn().Err(err).Msg("unparseable push envelope")
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		h.log.Warn().Err(err).Msg("push data is not valid base64")
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	var payload pushPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.EmailAddress == "" {
		h.log.Warn().Err(err).Msg("push data is not a mailbox notification")
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	h.metrics.NotificationsReceived.Inc()
	cursor := payload.HistoryID.String()
	log := h.log.With().
		Str("mailbox", payload.EmailAddress).
		Str("cursor", cursor).
		Logger()

	if !h.useQueue {
		// Debug affordance: run the sync in-process, detached from the
		// webhook response.
		go func() {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
			defer cancel()
			if err := h.direct.SyncMailbox(bg, payload.EmailAddress, cursor); err != nil {
				log.Error().Err(err).Msg("direct sync failed")
			}
		}()
		return c.JSON(fiber.Map{"status": "queued", "mode": "direct"})
	}

	job := &domain.SyncJob{
		MailboxAddress: payload.EmailAddress,
		Cursor:         cursor,
		ReceivedAt:     time.Now().UTC(),
	}
	result, err := h.queue.Enqueue(ctx, out.JobKindEmailSync, job, job.Key())
	if err != nil {
		// The provider retries non-200s; the dedup key makes its retry
		// safe and cheaper than surfacing a 5xx here.
		h.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeEnqueue).Inc()
		log.Error().Err(err).Msg("failed to enqueue sync job")
		return c.JSON(fiber.Map{"status": "error"})
	}

	if result.Deduped {
		log.Debug().Str("job_id", result.JobID).Msg("duplicate notification collapsed")
		return c.JSON(fiber.Map{"status": "queued", "jobId": result.JobID, "duplicate": true})
	}

	log.Info().Str("job_id", result.JobID).Msg("sync job queued")
	return c.JSON(fiber.Map{"status": "queued", "jobId": result.JobID})
}
