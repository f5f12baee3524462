package out

import (
	"context"

	"github.com/google/uuid"

	"mailsift_server/core/domain"
)

// ListFilter narrows document listings. Zero values mean "no filter";
// Limit of 0 falls back to the store default.
type ListFilter struct {
	UserID *uuid.UUID
	Status string
	Limit  int
}

// ExtractionRepository persists OCR results, one row per attachment.
type ExtractionRepository interface {
	Save(ctx context.Context, doc *domain.ExtractedDocument) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractedDocument, error)
	ListRecent(ctx context.Context, filter ListFilter) ([]*domain.ExtractedDocument, error)
	MarkNotified(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteMany removes a batch and reports how many rows went away.
	DeleteMany(ctx context.Context, ids []uuid.UUID) (int, error)

	// Stats summarizes the table, optionally scoped to one user.
	Stats(ctx context.Context, userID *uuid.UUID) (*domain.ExtractionStats, error)
}

// ProcessedEmailRepository records which messages the pipeline has claimed.
type ProcessedEmailRepository interface {
	// IsProcessed reports whether the message was already claimed.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// Mark claims the message. A second Mark for the same message returns
	// domain.ErrAlreadyProcessed so racing workers can stand down.
	Mark(ctx context.Context, rec *domain.ProcessedEmail) error
}
