package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/metrics"
)

type fakeAnalyzer struct {
	inline int
	stored int
	result *out.OCRResult
	err    error
}

func (f *fakeAnalyzer) AnalyzeInline(context.Context, []byte) (*out.OCRResult, error) {
	f.inline++
	return f.result, f.err
}

func (f *fakeAnalyzer) AnalyzeStored(context.Context, []byte, string) (*out.OCRResult, error) {
	f.stored++
	return f.result, f.err
}

type fakeDocs struct {
	out.ExtractionRepository
	saved   []*domain.ExtractedDocument
	saveErr error
}

func (f *fakeDocs) Save(_ context.Context, doc *domain.ExtractedDocument) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, doc)
	return nil
}

func job(filename, mime string, data []byte) *domain.AttachmentJob {
	return &domain.AttachmentJob{
		UserID:    uuid.New(),
		MessageID: "m-1",
		Subject:   "Invoice",
		Sender:    "billing@acme.example",
		Filename:  filename,
		MimeType:  mime,
		Payload:   base64.StdEncoding.EncodeToString(data),
	}
}

func TestExtract_ImageGoesInline(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &out.OCRResult{RawText: "total 42", Confidence: 96.5}}
	docs := &fakeDocs{}
	svc := NewService(analyzer, docs, metrics.New(), zerolog.Nop())

	doc, err := svc.Extract(context.Background(), job("scan.png", "image/png", []byte("png-bytes")))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if analyzer.inline != 1 || analyzer.stored != 0 {
		t.Errorf("inline=%d stored=%d, want inline path", analyzer.inline, analyzer.stored)
	}
	if doc.Status != domain.ExtractionCompleted {
		t.Errorf("status = %q", doc.Status)
	}
	if doc.RawText != "total 42" || doc.Confidence != 96.5 {
		t.Errorf("result not carried: %+v", doc)
	}
	if len(docs.saved) != 1 {
		t.Fatalf("saved %d documents, want 1", len(docs.saved))
	}
}

func TestExtract_PDFGoesStored(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &out.OCRResult{}}
	docs := &fakeDocs{}
	svc := NewService(analyzer, docs, metrics.New(), zerolog.Nop())

	if _, err := svc.Extract(context.Background(), job("invoice.pdf", "application/pdf", []byte("%PDF"))); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if analyzer.stored != 1 || analyzer.inline != 0 {
		t.Errorf("inline=%d stored=%d, PDFs must take the staged path", analyzer.inline, analyzer.stored)
	}
}

func TestExtract_OversizeImageGoesStored(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &out.OCRResult{}}
	docs := &fakeDocs{}
	svc := NewService(analyzer, docs, metrics.New(), zerolog.Nop())

	big := make([]byte, domain.InlineOCRLimit+1)
	if _, err := svc.Extract(context.Background(), job("big.png", "image/png", big)); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if analyzer.stored != 1 {
		t.Errorf("oversize payload must take the staged path")
	}
}

func TestExtract_OCRFailurePersistsNothing(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("throttled")}
	docs := &fakeDocs{}
	svc := NewService(analyzer, docs, metrics.New(), zerolog.Nop())

	if _, err := svc.Extract(context.Background(), job("scan.png", "image/png", []byte("x"))); err == nil {
		t.Fatal("OCR failure must propagate for retry")
	}
	if len(docs.saved) != 0 {
		t.Errorf("saved %d documents on failure, a retry must start clean", len(docs.saved))
	}
}

func TestExtract_BadPayloadFails(t *testing.T) {
	svc := NewService(&fakeAnalyzer{}, &fakeDocs{}, metrics.New(), zerolog.Nop())
	bad := &domain.AttachmentJob{Filename: "x.png", MimeType: "image/png", Payload: "not base64!!"}
	if _, err := svc.Extract(context.Background(), bad); err == nil {
		t.Fatal("invalid base64 must fail")
	}
}

func TestRecordFailure_WritesErrorDocument(t *testing.T) {
	docs := &fakeDocs{}
	svc := NewService(&fakeAnalyzer{}, docs, metrics.New(), zerolog.Nop())

	j := job("invoice.pdf", "application/pdf", []byte("%PDF"))
	if err := svc.RecordFailure(context.Background(), j, errors.New("unsupported document")); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if len(docs.saved) != 1 {
		t.Fatalf("saved %d documents, want 1", len(docs.saved))
	}
	doc := docs.saved[0]
	if doc.Status != domain.ExtractionFailed {
		t.Errorf("status = %q", doc.Status)
	}
	if doc.ErrorMessage == nil || *doc.ErrorMessage != "unsupported document" {
		t.Errorf("error message = %v", doc.ErrorMessage)
	}
	if doc.KeyValues == nil || doc.Tables == nil {
		t.Error("error documents must carry empty, not null, collections")
	}
}
