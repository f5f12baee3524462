package domain

import (
	"time"

	"github.com/google/uuid"
)

// Extraction status values. A document is written exactly once per
// attachment; failed extractions keep their error next to the metadata.
const (
	ExtractionCompleted = "completed"
	ExtractionFailed    = "error"
)

// KeyValue is one form field recovered from a document.
type KeyValue struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Table is one table recovered from a document, rows in reading order.
type Table struct {
	Rows       [][]string `json:"rows"`
	Confidence float64    `json:"confidence"`
}

// ExtractedDocument is the durable record of one attachment's OCR pass.
type ExtractedDocument struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	MessageID    string     `json:"message_id"`
	Subject      string     `json:"subject"`
	Sender       string     `json:"sender"`
	MessageDate  *time.Time `json:"message_date,omitempty"`
	Filename     string     `json:"filename"`
	MimeType     string     `json:"mime_type"`
	RawText      string     `json:"raw_text"`
	KeyValues    []KeyValue `json:"structured_data"`
	Tables       []Table    `json:"tables"`
	Confidence   float64    `json:"confidence"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ExtractedAt  time.Time  `json:"extracted_at"`
	NotifiedAt   *time.Time `json:"notified_at,omitempty"`
}

// ExtractionStats summarizes the document table for the operator API.
type ExtractionStats struct {
	TotalDocuments int     `json:"totalDocuments"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	AvgConfidence  float64 `json:"avgConfidence"`
}

// ProcessedEmail marks a message as claimed by the pipeline. The mark is
// written before attachment work starts so concurrent syncs settle on one
// winner.
type ProcessedEmail struct {
	MessageID   string    `json:"message_id"`
	UserID      uuid.UUID `json:"user_id"`
	ProcessedAt time.Time `json:"processed_at"`
}
