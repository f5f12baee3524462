package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
)

// ExtractionStore implements out.ExtractionRepository using PostgreSQL.
type ExtractionStore struct {
	db *sqlx.DB
}

// NewExtractionStore creates a new ExtractionStore.
func NewExtractionStore(db *sqlx.DB) *ExtractionStore {
	return &ExtractionStore{db: db}
}

// documentRow represents the database row for extracted documents.
type documentRow struct {
	ID           uuid.UUID      `db:"id"`
	UserID       uuid.UUID      `db:"user_id"`
	MessageID    string         `db:"message_id"`
	Subject      string         `db:"subject"`
	Sender       string         `db:"sender"`
	MessageDate  sql.NullTime   `db:"message_date"`
	Filename     string         `db:"filename"`
	MimeType     string         `db:"mime_type"`
	RawText      string         `db:"raw_text"`
	Structured   []byte         `db:"structured_data"` // JSONB
	Tables       []byte         `db:"tables"`          // JSONB
	Confidence   float64        `db:"confidence"`
	Status       string         `db:"status"`
	ErrorMessage sql.NullString `db:"error_message"`
	ExtractedAt  time.Time      `db:"extracted_at"`
	NotifiedAt   sql.NullTime   `db:"notified_at"`
}

// legacyStructured is the wrapped object form older rows carry. New rows
// store the key/value list directly.
type legacyStructured struct {
	KeyValuePairs []domain.KeyValue `json:"keyValuePairs"`
}

func (r *documentRow) toEntity() (*domain.ExtractedDocument, error) {
	doc := &domain.ExtractedDocument{
		ID:          r.ID,
		UserID:      r.UserID,
		MessageID:   r.MessageID,
		Subject:     r.Subject,
		Sender:      r.Sender,
		Filename:    r.Filename,
		MimeType:    r.MimeType,
		RawText:     r.RawText,
		Confidence:  r.Confidence,
		Status:      r.Status,
		ExtractedAt: r.ExtractedAt,
		KeyValues:   []domain.KeyValue{},
		Tables:      []domain.Table{},
	}

	if r.MessageDate.Valid {
		doc.MessageDate = &r.MessageDate.Time
	}
	if r.ErrorMessage.Valid {
		doc.ErrorMessage = &r.ErrorMessage.String
	}
	if r.NotifiedAt.Valid {
		doc.NotifiedAt = &r.NotifiedAt.Time
	}

	if len(r.Structured) > 0 {
		if err := json.Unmarshal(r.Structured, &doc.KeyValues); err != nil {
			// Older rows wrap the list in an object.
			var legacy legacyStructured
			if err2 := json.Unmarshal(r.Structured, &legacy); err2 != nil {
				return nil, fmt.Errorf("failed to parse structured data: %w", err)
			}
			doc.KeyValues = legacy.KeyValuePairs
		}
	}
	if len(r.Tables) > 0 {
		if err := json.Unmarshal(r.Tables, &doc.Tables); err != nil {
			return nil, fmt.Errorf("failed to parse tables: %w", err)
		}
	}
	if doc.KeyValues == nil {
		doc.KeyValues = []domain.KeyValue{}
	}
	if doc.Tables == nil {
		doc.Tables = []domain.Table{}
	}

	return doc, nil
}

// Save writes one extraction result row.
func (s *ExtractionStore) Save(ctx context.Context, doc *domain.ExtractedDocument) error {
	structured, err := json.Marshal(doc.KeyValues)
	if err != nil {
		return fmt.Errorf("failed to serialize structured data: %w", err)
	}
	tables, err := json.Marshal(doc.Tables)
	if err != nil {
		return fmt.Errorf("failed to serialize tables: %w", err)
	}

	query := `
		INSERT INTO extracted_documents
			(id, user_id, message_id, subject, sender, message_date, filename,
			 mime_type, raw_text, structured_data, tables, confidence, status,
			 error_message, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	if _, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.UserID, doc.MessageID, doc.Subject, doc.Sender,
		doc.MessageDate, doc.Filename, doc.MimeType, doc.RawText,
		structured, tables, doc.Confidence, doc.Status, doc.ErrorMessage,
		doc.ExtractedAt); err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

// GetByID retrieves one document.
func (s *ExtractionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExtractedDocument, error) {
	var row documentRow
	query := `SELECT * FROM extracted_documents WHERE id = $1`

	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}

	return row.toEntity()
}

// ListRecent returns the newest documents first, narrowed by the filter.
func (s *ExtractionStore) ListRecent(ctx context.Context, filter out.ListFilter) ([]*domain.ExtractedDocument, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT * FROM extracted_documents`
	args := []any{}
	where := []string{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY extracted_at DESC LIMIT $%d", len(args))

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}

	docs := make([]*domain.ExtractedDocument, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// MarkNotified stamps the notification time once.
func (s *ExtractionStore) MarkNotified(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE extracted_documents
		SET notified_at = NOW()
		WHERE id = $1 AND notified_at IS NULL`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark notified: %w", err)
	}
	return nil
}

// Delete removes one document.
func (s *ExtractionStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extracted_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete extraction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteMany removes a batch and reports how many rows went away.
func (s *ExtractionStore) DeleteMany(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`DELETE FROM extracted_documents WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete extractions: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats summarizes the table, optionally scoped to one user. Average
// confidence covers completed documents only; failures would drag the
// number without meaning.
func (s *ExtractionStore) Stats(ctx context.Context, userID *uuid.UUID) (*domain.ExtractionStats, error) {
	var row struct {
		Total         int     `db:"total"`
		Completed     int     `db:"completed"`
		Failed        int     `db:"failed"`
		AvgConfidence float64 `db:"avg_confidence"`
	}

	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'error') AS failed,
			COALESCE(AVG(confidence) FILTER (WHERE status = 'completed'), 0) AS avg_confidence
		FROM extracted_documents
		WHERE $1::uuid IS NULL OR user_id = $1`

	if err := s.db.GetContext(ctx, &row, query, userID); err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	return &domain.ExtractionStats{
		TotalDocuments: row.Total,
		Completed:      row.Completed,
		Failed:         row.Failed,
		AvgConfidence:  row.AvgConfidence,
	}, nil
}
