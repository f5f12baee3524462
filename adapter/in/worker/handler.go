// Package worker adapts queue deliveries and timers onto the core
// services.
package worker

import (
	"context"

	"github.com/rs/zerolog"

	out "mailsift_server/core/port/out"
	"mailsift_server/internal/queue"
	"mailsift_server/pkg/logger"
	"mailsift_server/pkg/tracing"
)

// Handler routes delivered jobs to their processor by kind.
type Handler struct {
	sync       *SyncProcessor
	attachment *AttachmentProcessor
	log        zerolog.Logger
}

// NewHandler wires the dispatch table.
func NewHandler(sync *SyncProcessor, attachment *AttachmentProcessor, log zerolog.Logger) *Handler {
	return &Handler{
		sync:       sync,
		attachment: attachment,
		log:        log.With().Str("component", "worker").Logger(),
	}
}

// Process runs one job. The span context captured at enqueue time is
// restored first so worker spans join the producing trace and worker log
// lines carry its trace/span ids.
func (h *Handler) Process(ctx context.Context, job *queue.Job) error {
	ctx = tracing.Extract(ctx, job.Trace)
	log := logger.WithTrace(ctx, h.log)

	switch job.Kind {
	case out.JobKindEmailSync:
		return h.sync.Process(ctx, job)
	case out.JobKindAttachment:
		return h.attachment.Process(ctx, job)
	default:
		// Unknown kinds are acknowledged, not retried; retrying cannot
		// make a kind known.
		log.Warn().Str("kind", job.Kind).Str("job_id", job.ID).Msg("unknown job kind")
		return nil
	}
}
