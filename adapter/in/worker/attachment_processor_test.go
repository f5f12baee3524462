package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/core/service/extract"
	"mailsift_server/internal/queue"
	"mailsift_server/pkg/metrics"
)

type failingAnalyzer struct {
	err error
}

func (f *failingAnalyzer) AnalyzeInline(context.Context, []byte) (*out.OCRResult, error) {
	return nil, f.err
}

func (f *failingAnalyzer) AnalyzeStored(context.Context, []byte, string) (*out.OCRResult, error) {
	return nil, f.err
}

type capturingDocs struct {
	out.ExtractionRepository
	saved []*domain.ExtractedDocument
}

func (c *capturingDocs) Save(_ context.Context, doc *domain.ExtractedDocument) error {
	c.saved = append(c.saved, doc)
	return nil
}

func attachmentJob(t *testing.T, attempt int) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(&domain.AttachmentJob{
		UserID:    uuid.New(),
		MessageID: "m-1",
		Filename:  "scan.png",
		MimeType:  "image/png",
		Payload:   base64.StdEncoding.EncodeToString([]byte("pixels")),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &queue.Job{
		ID:      "j-1",
		Kind:    out.JobKindAttachment,
		Attempt: attempt,
		Payload: payload,
	}
}

func newFailingProcessor(t *testing.T, docs *capturingDocs) *AttachmentProcessor {
	t.Helper()
	svc := extract.NewService(
		&failingAnalyzer{err: errors.New("ocr rejected the document")},
		docs, metrics.New(), zerolog.Nop(),
	)
	return NewAttachmentProcessor(svc, zerolog.Nop())
}

func TestAttachmentProcessor_EarlyFailureGoesToRetry(t *testing.T) {
	docs := &capturingDocs{}
	p := newFailingProcessor(t, docs)

	err := p.Process(context.Background(), attachmentJob(t, 0))
	if err == nil {
		t.Fatal("Process() = nil, want error so the job re-enters the retry schedule")
	}
	if len(docs.saved) != 0 {
		t.Errorf("persisted %d documents on a retryable failure, want 0", len(docs.saved))
	}
}

func TestAttachmentProcessor_FinalFailureRecordsErrorDocument(t *testing.T) {
	docs := &capturingDocs{}
	p := newFailingProcessor(t, docs)

	// Attempt counts failures already spent; the attachment policy allows
	// two attempts, so attempt 1 is the last one.
	err := p.Process(context.Background(), attachmentJob(t, 1))
	if err != nil {
		t.Fatalf("Process() on final attempt = %v, want nil so the job completes", err)
	}
	if len(docs.saved) != 1 {
		t.Fatalf("persisted %d documents, want 1 error document", len(docs.saved))
	}

	doc := docs.saved[0]
	if doc.Status != domain.ExtractionFailed {
		t.Errorf("status = %q, want %q", doc.Status, domain.ExtractionFailed)
	}
	if doc.ErrorMessage == nil || *doc.ErrorMessage == "" {
		t.Error("error document carries no error message")
	}
	if doc.KeyValues == nil || doc.Tables == nil {
		t.Error("structured fields must be empty, not null")
	}
}

func TestAttachmentProcessor_MalformedPayloadIsDropped(t *testing.T) {
	docs := &capturingDocs{}
	p := newFailingProcessor(t, docs)

	job := &queue.Job{ID: "j-2", Kind: out.JobKindAttachment, Payload: []byte("{not json")}
	if err := p.Process(context.Background(), job); err != nil {
		t.Fatalf("Process() = %v, want nil; retrying cannot fix a malformed payload", err)
	}
	if len(docs.saved) != 0 {
		t.Errorf("persisted %d documents for a malformed payload, want 0", len(docs.saved))
	}
}
