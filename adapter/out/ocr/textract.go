// Package ocr implements document analysis on AWS Textract. Small
// documents go inline; everything else is staged to the blob store and
// analyzed asynchronously.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/rs/zerolog"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/metrics"
	"mailsift_server/pkg/tracing"
)

var (
	// ErrPayloadTooLarge reports an inline request over the provider cap.
	ErrPayloadTooLarge = errors.New("document exceeds inline analysis limit")

	// ErrUnsupportedDocument reports a format the analysis API rejects;
	// the inline path falls back to plain text detection.
	ErrUnsupportedDocument = errors.New("document format not supported for analysis")

	// ErrTimeout reports an async job that outlived the polling budget.
	ErrTimeout = errors.New("document analysis timed out")

	// ErrFailed reports an async job the provider marked failed.
	ErrFailed = errors.New("document analysis failed")
)

const (
	pollInterval = 5 * time.Second
	pollBudget   = 300 * time.Second
)

var analysisFeatures = []types.FeatureType{
	types.FeatureTypeTables,
	types.FeatureTypeForms,
}

// Client implements out.DocumentAnalyzer over Textract.
type Client struct {
	svc     *textract.Client
	blobs   out.BlobStore
	bucket  string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New builds the OCR client. The bucket names where staged objects live;
// it must match the blob store's target.
func New(svc *textract.Client, blobs out.BlobStore, bucket string, m *metrics.Metrics, log zerolog.Logger) *Client {
	return &Client{
		svc:     svc,
		blobs:   blobs,
		bucket:  bucket,
		metrics: m,
		log:     log.With().Str("component", "ocr").Logger(),
	}
}

var _ out.DocumentAnalyzer = (*Client)(nil)

// AnalyzeInline runs synchronous analysis on the bytes. Oversized input
// is rejected before any network call; a format the analysis API cannot
// handle falls back to plain text detection.
func (c *Client) AnalyzeInline(ctx context.Context, data []byte) (*out.OCRResult, error) {
	if len(data) > domain.InlineOCRLimit {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}

	ctx, span := tracing.Start(ctx, "ocr.analyze")
	defer span.End()

	start := time.Now()
	c.metrics.OCRCalls.Inc()

	resp, err := c.svc.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: data},
		FeatureTypes: analysisFeatures,
	})
	if err != nil {
		var unsupported *types.UnsupportedDocumentException
		if errors.As(err, &unsupported) {
			c.log.Debug().Msg("analysis unsupported, falling back to text detection")
			return c.detectText(ctx, data, start)
		}
		c.metrics.OCRErrors.Inc()
		return nil, fmt.Errorf("inline analysis failed: %w", err)
	}

	c.metrics.OCRDuration.Observe(time.Since(start).Seconds())
	return transformBlocks(resp.Blocks), nil
}

// detectText is the text-only fallback for formats the analysis API
// rejects. No key/values, no tables; confidence is the line mean.
func (c *Client) detectText(ctx context.Context, data []byte, start time.Time) (*out.OCRResult, error) {
	resp, err := c.svc.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		c.metrics.OCRErrors.Inc()
		return nil, fmt.Errorf("%w: text detection also failed: %v", ErrUnsupportedDocument, err)
	}
	c.metrics.OCRDuration.Observe(time.Since(start).Seconds())
	return linesResult(resp.Blocks), nil
}

// AnalyzeStored stages the document and runs asynchronous analysis to
// completion. The staged blob is deleted whether or not analysis
// succeeds; cleanup failures are logged, never surfaced.
func (c *Client) AnalyzeStored(ctx context.Context, data []byte, filename string) (*out.OCRResult, error) {
	ctx, span := tracing.Start(ctx, "ocr.start")
	defer span.End()

	key, err := c.blobs.Put(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}
	defer func() {
		// Cleanup must survive caller cancellation.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := c.blobs.Delete(cleanupCtx, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("failed to delete staged blob")
		}
	}()

	start := time.Now()
	c.metrics.OCRCalls.Inc()

	started, err := c.svc.StartDocumentAnalysis(ctx, &textract.StartDocumentAnalysisInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(c.bucket),
				Name:   aws.String(key),
			},
		},
		FeatureTypes: analysisFeatures,
	})
	if err != nil {
		c.metrics.OCRErrors.Inc()
		return nil, fmt.Errorf("failed to start analysis: %w", err)
	}

	blocks, err := c.pollAnalysis(ctx, aws.ToString(started.JobId))
	if err != nil {
		c.metrics.OCRErrors.Inc()
		return nil, err
	}

	c.metrics.OCRDuration.Observe(time.Since(start).Seconds())
	return transformBlocks(blocks), nil
}

// pollAnalysis waits for the async job, then drains every result page.
func (c *Client) pollAnalysis(ctx context.Context, jobID string) ([]types.Block, error) {
	ctx, span := tracing.Start(ctx, "ocr.poll")
	defer span.End()

	deadline := time.Now().Add(pollBudget)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.svc.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId: aws.String(jobID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to poll analysis %s: %w", jobID, err)
		}

		switch resp.JobStatus {
		case types.JobStatusSucceeded:
			return c.collectBlocks(ctx, jobID, resp)
		case types.JobStatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrFailed, aws.ToString(resp.StatusMessage))
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: job %s still %s after %s",
				ErrTimeout, jobID, resp.JobStatus, pollBudget)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// collectBlocks follows continuation tokens until the result is complete.
func (c *Client) collectBlocks(ctx context.Context, jobID string, first *textract.GetDocumentAnalysisOutput) ([]types.Block, error) {
	ctx, span := tracing.Start(ctx, "ocr.get")
	defer span.End()

	blocks := first.Blocks
	next := first.NextToken

	for next != nil {
		resp, err := c.svc.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId:     aws.String(jobID),
			NextToken: next,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to page analysis %s: %w", jobID, err)
		}
		blocks = append(blocks, resp.Blocks...)
		next = resp.NextToken
	}
	return blocks, nil
}
