package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	"mailsift_server/core/service/ingest"
	"mailsift_server/internal/queue"
)

// SyncProcessor decodes mailbox-sync jobs for the ingest service.
type SyncProcessor struct {
	ingest *ingest.SyncService
	log    zerolog.Logger
}

// NewSyncProcessor wires the processor.
func NewSyncProcessor(svc *ingest.SyncService, log zerolog.Logger) *SyncProcessor {
	return &SyncProcessor{
		ingest: svc,
		log:    log.With().Str("component", "sync_processor").Logger(),
	}
}

// Process runs one mailbox reconciliation. Errors flow back to the queue
// for retry under the sync policy.
func (p *SyncProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload domain.SyncJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// A payload that cannot be decoded will never decode; drop it.
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("discarding malformed sync job")
		return nil
	}

	p.log.Debug().
		Str("job_id", job.ID).
		Str("mailbox", payload.MailboxAddress).
		Str("cursor", payload.Cursor).
		Msg("processing mailbox sync")

	if err := p.ingest.SyncMailbox(ctx, payload.MailboxAddress, payload.Cursor); err != nil {
		return fmt.Errorf("mailbox sync failed: %w", err)
	}
	return nil
}
