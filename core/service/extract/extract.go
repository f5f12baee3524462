// Package extract turns attachment jobs into persisted extraction
// documents, completed or failed.
package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/metrics"
	"mailsift_server/pkg/tracing"
)

// Service is the attachment worker core.
type Service struct {
	analyzer out.DocumentAnalyzer
	docs     out.ExtractionRepository
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewService wires the service.
func NewService(analyzer out.DocumentAnalyzer, docs out.ExtractionRepository, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		analyzer: analyzer,
		docs:     docs,
		metrics:  m,
		log:      log.With().Str("component", "extract").Logger(),
	}
}

// Extract runs OCR on one attachment and persists the completed document.
// The returned error is the caller's retry signal; nothing is persisted on
// failure so a retry starts clean.
func (s *Service) Extract(ctx context.Context, job *domain.AttachmentJob) (*domain.ExtractedDocument, error) {
	ctx, span := tracing.Start(ctx, "attachment.extract")
	defer span.End()

	log := s.log.With().
		Str("user_id", job.UserID.String()).
		Str("message_id", job.MessageID).
		Str("filename", job.Filename).
		Logger()

	data, err := base64.StdEncoding.DecodeString(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment payload: %w", err)
	}

	result, err := s.analyze(ctx, job, data)
	if err != nil {
		s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeOCR).Inc()
		return nil, err
	}

	doc := s.newDocument(job)
	doc.RawText = result.RawText
	doc.KeyValues = result.KeyValues
	doc.Tables = result.Tables
	doc.Confidence = result.Confidence
	doc.Status = domain.ExtractionCompleted

	if err := s.docs.Save(ctx, doc); err != nil {
		s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeStore).Inc()
		return nil, fmt.Errorf("failed to persist extraction: %w", err)
	}

	s.metrics.AttachmentsExtracted.Inc()
	s.metrics.OCRConfidence.Observe(doc.Confidence)
	log.Info().
		Float64("confidence", doc.Confidence).
		Int("key_values", len(doc.KeyValues)).
		Int("tables", len(doc.Tables)).
		Msg("attachment extracted")
	return doc, nil
}

// analyze picks the OCR path. PDFs always go async regardless of size:
// they are the multi-page case and the async API is the one that pages.
// Images inside the inline cap go direct.
func (s *Service) analyze(ctx context.Context, job *domain.AttachmentJob, data []byte) (*out.OCRResult, error) {
	if domain.IsPDF(job.Filename, job.MimeType) || len(data) > domain.InlineOCRLimit {
		return s.analyzer.AnalyzeStored(ctx, data, job.Filename)
	}
	return s.analyzer.AnalyzeInline(ctx, data)
}

// RecordFailure persists the error document once retries are exhausted.
// The job then completes normally so the root cause lives in the
// database, not only in the dead-letter stream.
func (s *Service) RecordFailure(ctx context.Context, job *domain.AttachmentJob, cause error) error {
	msg := cause.Error()
	doc := s.newDocument(job)
	doc.Status = domain.ExtractionFailed
	doc.ErrorMessage = &msg
	doc.KeyValues = []domain.KeyValue{}
	doc.Tables = []domain.Table{}

	if err := s.docs.Save(ctx, doc); err != nil {
		s.metrics.ProcessingErrors.WithLabelValues(metrics.ErrorTypeStore).Inc()
		return fmt.Errorf("failed to persist error document: %w", err)
	}

	s.log.Warn().
		Str("message_id", job.MessageID).
		Str("filename", job.Filename).
		Str("error", msg).
		Msg("extraction failed terminally, error document recorded")
	return nil
}

func (s *Service) newDocument(job *domain.AttachmentJob) *domain.ExtractedDocument {
	return &domain.ExtractedDocument{
		ID:          uuid.New(),
		UserID:      job.UserID,
		MessageID:   job.MessageID,
		Subject:     job.Subject,
		Sender:      job.Sender,
		MessageDate: job.MessageDate,
		Filename:    job.Filename,
		MimeType:    job.MimeType,
		ExtractedAt: time.Now().UTC(),
	}
}
