// Package blobstore stages documents in S3 for asynchronous OCR. Objects
// are transient: the OCR client deletes them as soon as analysis settles.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/metrics"
	"mailsift_server/pkg/tracing"
)

const keyPrefix = "documents/"

// keySafe strips characters that complicate S3 keys and signed URLs.
var keySafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Store implements out.BlobStore on one staging bucket.
type Store struct {
	client  *s3.Client
	bucket  string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New builds the staging store.
func New(client *s3.Client, bucket string, m *metrics.Metrics, log zerolog.Logger) *Store {
	return &Store{
		client:  client,
		bucket:  bucket,
		metrics: m,
		log:     log.With().Str("component", "blobstore").Logger(),
	}
}

var _ out.BlobStore = (*Store)(nil)

// Bucket returns the staging bucket name for OCR job references.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put uploads data under a fresh documents/ key.
func (s *Store) Put(ctx context.Context, filename string, data []byte) (string, error) {
	ctx, span := tracing.Start(ctx, "blob.put")
	defer span.End()

	key := fmt.Sprintf("%s%d-%s-%s",
		keyPrefix,
		time.Now().UnixMilli(),
		uuid.New().String(),
		keySafe.ReplaceAllString(filename, "_"))

	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	s.metrics.BlobPutDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("failed to stage blob: %w", err)
	}

	s.log.Debug().Str("key", key).Int("size", len(data)).Msg("blob staged")
	return key, nil
}

// Delete removes a staged object. A key that is already gone is fine.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := tracing.Start(ctx, "blob.delete")
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
