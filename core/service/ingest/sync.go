// Package ingest reconciles mailbox change notifications into attachment
// extraction jobs. ProcessedEmail rows are the durable dedup point; the
// queue's key dedup and the in-process lock set only cut redundant work
// before that point.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/mailbox"
	"mailsift_server/pkg/metrics"
	"mailsift_server/pkg/tracing"
)

// maxMessagesPerSync caps one reconciliation run. Anything beyond the cap
// stays unread and returns on the next notification.
const maxMessagesPerSync = 10

// SyncService is the mailbox-sync worker core.
type SyncService struct {
	users     out.UserRepository
	processed out.ProcessedEmailRepository
	clients   mailbox.ClientFactory
	queue     out.JobQueue
	locks     *LockSet
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewSyncService wires the service.
func NewSyncService(
	users out.UserRepository,
	processed out.ProcessedEmailRepository,
	clients mailbox.ClientFactory,
	queue out.JobQueue,
	locks *LockSet,
	m *metrics.Metrics,
	log zerolog.Logger,
) *SyncService {
	return &SyncService{
		users:     users,
		processed: processed,
		clients:   clients,
		queue:     queue,
		locks:     locks,
		metrics:   m,
		log:       log.With().Str("component", "ingest").Logger(),
	}
}

// SyncMailbox reconciles one mailbox after a push notification. Unknown
// or disconnected mailboxes succeed as no-ops so the queue does not burn
// retries on notifications nobody can act on.
func (s *SyncService) SyncMailbox(ctx context.Context, mailboxAddr, cursor string) error {
	ctx, span := tracing.Start(ctx, "mailbox.sync")
	defer span.End()

	log := s.log.With().Str("mailbox", mailboxAddr).Str("cursor", cursor).Logger()

	user, err := s.users.GetByEmail(ctx, mailboxAddr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("notification for unknown mailbox, ignoring")
			return nil
		}
		s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeStore).Inc()
		return fmt.Errorf("failed to resolve mailbox owner: %w", err)
	}
	if !user.MailboxConnected {
		log.Warn().Msg("notification for disconnected mailbox, ignoring")
		return nil
	}

	// The cursor advance is the receipt for this notification. It runs on
	// every exit path so a partial failure does not replay the whole push;
	// ProcessedEmail already guards each message individually.
	defer func() {
		if cursor == "" {
			return
		}
		if err := s.users.SaveCursor(context.WithoutCancel(ctx), user.ID, cursor); err != nil {
			log.Error().Err(err).Msg("failed to advance mailbox cursor")
		}
	}()

	client, err := s.clients.ClientFor(ctx, user.ID)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotConnected) || errors.Is(err, mailbox.ErrUserMissing) {
			log.Warn().Err(err).Msg("mailbox unavailable, ignoring notification")
			return nil
		}
		s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeMailbox).Inc()
		return fmt.Errorf("failed to build mailbox client: %w", err)
	}

	messages, err := client.ListUnreadWithAttachments(ctx, maxMessagesPerSync)
	if err != nil {
		s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeMailbox).Inc()
		return fmt.Errorf("failed to list unread messages: %w", err)
	}
	if len(messages) == 0 {
		log.Debug().Msg("no unread messages with attachments")
		return nil
	}

	var firstErr error
	for _, msg := range messages {
		if err := s.processMessage(ctx, user, client, msg, log); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeSync).Inc()
			log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to process message")
		}
	}
	return firstErr
}

// processMessage claims one message and fans its attachments out to the
// extraction queue. The in-process lock is held only across the claim and
// the enqueues, never across any OCR work.
func (s *SyncService) processMessage(ctx context.Context, user *domain.User, client out.MailboxClient, msg *out.MailMessage, log zerolog.Logger) error {
	supported := supportedAttachments(msg)
	if len(supported) == 0 {
		// No ProcessedEmail row: the message may return with a supported
		// attachment later and must not be permanently skipped.
		log.Debug().Str("message_id", msg.ID).Msg("no supported attachments, skipping")
		s.metrics.EmailsSkipped.Inc()
		return nil
	}

	if !s.locks.TryAcquire(msg.ID) {
		log.Debug().Str("message_id", msg.ID).Msg("message already in flight, skipping")
		s.metrics.EmailsSkipped.Inc()
		return nil
	}
	defer s.locks.Release(msg.ID)

	done, err := s.processed.IsProcessed(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to check processed state: %w", err)
	}
	if done {
		s.metrics.EmailsSkipped.Inc()
		return nil
	}

	// Durable claim before any attachment work. A unique violation means
	// another worker won the race; stand down without error.
	err = s.processed.Mark(ctx, &domain.ProcessedEmail{
		MessageID:   msg.ID,
		UserID:      user.ID,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			log.Debug().Str("message_id", msg.ID).Msg("lost claim race, skipping")
			s.metrics.EmailsSkipped.Inc()
			return nil
		}
		return fmt.Errorf("failed to claim message: %w", err)
	}

	if err := s.enqueueAttachments(ctx, user, client, msg, supported, log); err != nil {
		return err
	}

	if err := client.MarkRead(ctx, msg.ID); err != nil {
		// A read-only grant cannot clear the unread flag. The ProcessedEmail
		// row keeps re-syncs from duplicating work, so keep going.
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to mark message read")
	}

	s.metrics.EmailsProcessed.Inc()
	return nil
}

// enqueueAttachments fetches bytes and enqueues one extraction job per
// attachment, all in parallel. A single failed attachment is logged and
// skipped; the rest of the message still goes through.
func (s *SyncService) enqueueAttachments(ctx context.Context, user *domain.User, client out.MailboxClient, msg *out.MailMessage, attachments []out.MailAttachment, log zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, att := range attachments {
		att := att
		g.Go(func() error {
			data, err := client.FetchAttachment(gctx, msg.ID, att.ID)
			if err != nil {
				s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeMailbox).Inc()
				log.Warn().Err(err).
					Str("message_id", msg.ID).
					Str("filename", att.Filename).
					Msg("failed to fetch attachment")
				return nil
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

			if _, err := s.queue.Enqueue(gctx, out.JobKindAttachment, job, job.Key()); err != nil {
				s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeEnqueue).Inc()
				log.Warn().Err(err).
					Str("message_id", msg.ID).
					Str("filename", att.Filename).
					Msg("failed to enqueue attachment job")
			}
			return nil
		})
	}
	return g.Wait()
}

// supportedAttachments filters a message down to extractable attachments.
func supportedAttachments(msg *out.MailMessage) []out.MailAttachment {
	var supported []out.MailAttachment
	for _, att := range msg.Attachments {
		if domain.SupportedAttachment(att.Filename, att.MimeType) {
			supported = append(supported, att)
		}
	}
	return supported
}
