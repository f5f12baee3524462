package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/mailbox"
)

// Extractor is the synchronous extraction surface the direct path needs.
// The queue-driven path never touches it; attachment jobs go through the
// attachment worker instead.
type Extractor interface {
	Extract(ctx context.Context, job *domain.AttachmentJob) (*domain.ExtractedDocument, error)
	RecordFailure(ctx context.Context, job *domain.AttachmentJob, cause error) error
}

// FileResult is one attachment's outcome in a direct processing run.
type FileResult struct {
	FileName   string     `json:"fileName"`
	DocumentID *uuid.UUID `json:"documentId,omitempty"`
	Error      *string    `json:"error,omitempty"`
	DurationMS int64      `json:"duration"`
}

// ProcessReport summarizes a direct processing run.
type ProcessReport struct {
	EmailsProcessed    int          `json:"emailsProcessed"`
	DocumentsProcessed int          `json:"documentsProcessed"`
	Successful         int          `json:"successful"`
	Failed             int          `json:"failed"`
	Results            []FileResult `json:"results"`
}

// PendingEmail is one unread message with supported attachments, as shown
// by the operator API.
type PendingEmail struct {
	MessageID   string   `json:"messageId"`
	Subject     string   `json:"subject"`
	From        string   `json:"from"`
	Date        string   `json:"date,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
	Attachments []string `json:"attachments"`
}

// DirectService runs sync plus extraction in one synchronous pass. It
// exists for operator-driven reprocessing and local debugging; production
// traffic takes the queued path.
type DirectService struct {
	sync      *SyncService
	extractor Extractor
	workers   int
}

// NewDirectService wires the direct path. workers bounds parallel
// extraction within one request.
func NewDirectService(sync *SyncService, extractor Extractor, workers int) *DirectService {
	if workers < 1 {
		workers = 1
	}
	return &DirectService{sync: sync, extractor: extractor, workers: workers}
}

// ResolveUser picks the processing target: the given id, or the single
// connected user when the id is absent.
func (d *DirectService) ResolveUser(ctx context.Context, userID *uuid.UUID) (*domain.User, error) {
	if userID != nil {
		user, err := d.sync.users.GetByID(ctx, *userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
			}
			return nil, err
		}
		return user, nil
	}

	connected, err := d.sync.users.ListConnected(ctx)
	if err != nil {
		return nil, err
	}
	if len(connected) == 0 {
		return nil, fmt.Errorf("no connected mailbox: %w", domain.ErrNotFound)
	}
	return connected[0], nil
}

// ListPending shows the unread messages a processing run would pick up.
func (d *DirectService) ListPending(ctx context.Context, userID *uuid.UUID) ([]PendingEmail, error) {
	user, err := d.ResolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	client, err := d.sync.clients.ClientFor(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	messages, err := client.ListUnreadWithAttachments(ctx, maxMessagesPerSync)
	if err != nil {
		return nil, err
	}

	pending := make([]PendingEmail, 0, len(messages))
	for _, msg := range messages {
		supported := supportedAttachments(msg)
		if len(supported) == 0 {
			continue
		}
		email := PendingEmail{
			MessageID:   msg.ID,
			Subject:     msg.Subject,
			From:        msg.From,
			Snippet:     msg.Snippet,
			Attachments: make([]string, 0, len(supported)),
		}
		if !msg.Date.IsZero() {
			email.Date = msg.Date.UTC().Format(time.RFC3339)
		}
		for _, att := range supported {
			email.Attachments = append(email.Attachments, att.Filename)
		}
		pending = append(pending, email)
	}
	return pending, nil
}

// attachmentTask pairs a job with its result slot for the worker pool.
type attachmentTask struct {
	job  *domain.AttachmentJob
	slot *FileResult
}

type attachmentWorker struct {
	d *DirectService
}

// Do implements pool.Worker. Failures are recorded in the result slot and
// as error documents; the run continues.
func (w *attachmentWorker) Do(ctx context.Context, task *attachmentTask) error {
	start := time.Now()
	doc, err := w.d.extractor.Extract(ctx, task.job)
	task.slot.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		msg := err.Error()
		task.slot.Error = &msg
		if recErr := w.d.extractor.RecordFailure(ctx, task.job, err); recErr != nil {
			w.d.sync.log.Error().Err(recErr).
				Str("filename", task.job.Filename).
				Msg("failed to record extraction failure")
		}
		return nil
	}
	task.slot.DocumentID = &doc.ID
	return nil
}

// ProcessNow syncs one mailbox and extracts every pending attachment in
// this process, bypassing the queue.
func (d *DirectService) ProcessNow(ctx context.Context, userID *uuid.UUID) (*ProcessReport, error) {
	user, err := d.ResolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return d.processUser(ctx, user)
}

// SyncMailbox is the direct-mode webhook path: claim and extract inline
// instead of enqueueing. Unknown or disconnected mailboxes are ignored,
// matching the queued path's soft no-op.
func (d *DirectService) SyncMailbox(ctx context.Context, mailboxAddr, cursor string) error {
	s := d.sync
	log := s.log.With().Str("mailbox", mailboxAddr).Str("cursor", cursor).Logger()

	user, err := s.users.GetByEmail(ctx, mailboxAddr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("notification for unknown mailbox, ignoring")
			return nil
		}
		return fmt.Errorf("failed to resolve mailbox owner: %w", err)
	}
	if !user.MailboxConnected {
		log.Warn().Msg("notification for disconnected mailbox, ignoring")
		return nil
	}

	// Cursor advance mirrors the queued path: it is the receipt for this
	// notification and runs even when processing fails partway.
	defer func() {
		if cursor == "" {
			return
		}
		if err := s.users.SaveCursor(context.WithoutCancel(ctx), user.ID, cursor); err != nil {
			log.Error().Err(err).Msg("failed to advance mailbox cursor")
		}
	}()

	if _, err := d.processUser(ctx, user); err != nil {
		if errors.Is(err, mailbox.ErrNotConnected) || errors.Is(err, mailbox.ErrUserMissing) {
			log.Warn().Err(err).Msg("mailbox unavailable, ignoring notification")
			return nil
		}
		return err
	}
	return nil
}

func (d *DirectService) processUser(ctx context.Context, user *domain.User) (*ProcessReport, error) {
	client, err := d.sync.clients.ClientFor(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	messages, err := client.ListUnreadWithAttachments(ctx, maxMessagesPerSync)
	if err != nil {
		return nil, err
	}

	report := &ProcessReport{Results: []FileResult{}}
	var jobs []*domain.AttachmentJob

	for _, msg := range messages {
		msgJobs, claimed := d.claimMessage(ctx, user, client, msg)
		if !claimed {
			continue
		}
		report.EmailsProcessed++
		jobs = append(jobs, msgJobs...)
	}

	// Size the results slice up front; tasks hold stable pointers into it.
	report.Results = make([]FileResult, len(jobs))
	tasks := make([]*attachmentTask, len(jobs))
	for i, job := range jobs {
		report.Results[i] = FileResult{FileName: job.Filename}
		tasks[i] = &attachmentTask{job: job, slot: &report.Results[i]}
	}

	if len(tasks) > 0 {
		p := pool.New[*attachmentTask](d.workers, &attachmentWorker{d: d}).
			WithContinueOnError()
		if err := p.Go(ctx); err != nil {
			return nil, fmt.Errorf("failed to start extraction pool: %w", err)
		}
		for _, task := range tasks {
			p.Submit(task)
		}
		if err := p.Close(ctx); err != nil {
			d.sync.log.Warn().Err(err).Msg("extraction pool reported errors")
		}
	}

	for i := range report.Results {
		report.DocumentsProcessed++
		if report.Results[i].Error != nil {
			report.Failed++
		} else {
			report.Successful++
		}
	}
	return report, nil
}

// claimMessage mirrors the queued path's claim sequence, returning the
// attachment jobs to extract. False means the message was skipped.
func (d *DirectService) claimMessage(ctx context.Context, user *domain.User, client out.MailboxClient, msg *out.MailMessage) ([]*domain.AttachmentJob, bool) {
	s := d.sync
	log := s.log.With().Str("message_id", msg.ID).Logger()

	supported := supportedAttachments(msg)
	if len(supported) == 0 {
		return nil, false
	}

	if !s.locks.TryAcquire(msg.ID) {
		return nil, false
	}
	defer s.locks.Release(msg.ID)

	if done, err := s.processed.IsProcessed(ctx, msg.ID); err != nil || done {
		return nil, false
	}
	err := s.processed.Mark(ctx, &domain.ProcessedEmail{
		MessageID:   msg.ID,
		UserID:      user.ID,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyProcessed) {
			log.Error().Err(err).Msg("failed to claim message")
		}
		return nil, false
	}

	var jobs []*domain.AttachmentJob
	for _, att := range supported {
		data, err := client.FetchAttachment(ctx, msg.ID, att.ID)
		if err != nil {
			log.Warn().Err(err).Str("filename", att.Filename).Msg("failed to fetch attachment")
			continue
		}
		job := &domain.AttachmentJob{
			UserID:    user.ID,
			MessageID: msg.ID,
			Subject:   msg.Subject,
			Sender:    msg.From,
			Filename:  att.Filename,
			MimeType:  att.MimeType,
			Payload:   base64.StdEncoding.EncodeToString(data),
		}
		if !msg.Date.IsZero() {
			date := msg.Date
			job.MessageDate = &date
		}
		jobs = append(jobs, job)
	}

	if err := client.MarkRead(ctx, msg.ID); err != nil {
		log.Warn().Err(err).Msg("failed to mark message read")
	}
	s.metrics.EmailsProcessed.Inc()
	return jobs, true
}
