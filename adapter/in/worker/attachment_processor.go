package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/extract"
	"mailsift_server/internal/queue"
)

// AttachmentProcessor decodes attachment jobs for the extraction service
// and turns terminal OCR failures into persisted error documents.
type AttachmentProcessor struct {
	extract     *extract.Service
	maxAttempts int
	log         zerolog.Logger
}

// NewAttachmentProcessor wires the processor.
func NewAttachmentProcessor(svc *extract.Service, log zerolog.Logger) *AttachmentProcessor {
	return &AttachmentProcessor{
		extract:     svc,
		maxAttempts: queue.Policies()[out.JobKindAttachment].MaxAttempts,
		log:         log.With().Str("component", "attachment_processor").Logger(),
	}
}

// Process extracts one attachment. Transient failures flow back for
// retry; on the final attempt the failure is recorded as an error
// document and the job completes, so the root cause lives in the
// database rather than only in the dead-letter stream.
func (p *AttachmentProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload domain.AttachmentJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("discarding malformed attachment job")
		return nil
	}

	log := p.log.With().
		Str("job_id", job.ID).
		Str("message_id", payload.MessageID).
		Str("filename", payload.Filename).
		Logger()

	if _, err := p.extract.Extract(ctx, &payload); err != nil {
		if job.Attempt+1 >= p.maxAttempts {
			log.Warn().Err(err).Msg("final extraction attempt failed, recording error document")
			return p.extract.RecordFailure(ctx, &payload, err)
		}
		return fmt.Errorf("extraction failed: %w", err)
	}
	return nil
}
