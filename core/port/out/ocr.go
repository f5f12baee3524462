package out

import (
	"context"

	"mailsift_server/core/domain"
)

// OCRResult is the normalized output of one document analysis.
type OCRResult struct {
	RawText    string
	KeyValues  []domain.KeyValue
	Tables     []domain.Table
	Confidence float64
}

// DocumentAnalyzer runs OCR over attachment bytes.
type DocumentAnalyzer interface {
	// AnalyzeInline sends the bytes directly. Fails with
	// ErrPayloadTooLarge above the inline limit.
	AnalyzeInline(ctx context.Context, data []byte) (*OCRResult, error)

	// AnalyzeStored stages the bytes in the blob store and runs the async
	// job to completion. The staged blob is deleted before return.
	AnalyzeStored(ctx context.Context, data []byte, filename string) (*OCRResult, error)
}

// BlobStore stages documents for async analysis.
type BlobStore interface {
	// Put uploads data and returns the generated object key.
	Put(ctx context.Context, filename string, data []byte) (string, error)

	// Delete removes an object. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}
