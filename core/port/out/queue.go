package out

import "context"

// Job kinds routed through the queue substrate.
const (
	JobKindEmailSync  = "email.sync"
	JobKindAttachment = "attachment.extract"
)

// EnqueueResult reports the job id and whether an identical pending job
// absorbed this enqueue.
type EnqueueResult struct {
	JobID   string
	Deduped bool
}

// QueueCounts is a per-queue state snapshot for the operator API.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// JobQueue is the at-least-once delivery substrate. Payloads must be
// JSON-serializable; handlers may see the same payload more than once.
type JobQueue interface {
	// Enqueue adds a job unless a pending or active job already carries
	// jobKey, in which case the existing job id is returned.
	Enqueue(ctx context.Context, kind string, payload any, jobKey string) (*EnqueueResult, error)

	// Counts reports queue depth by state for one job kind.
	Counts(ctx context.Context, kind string) (*QueueCounts, error)
}
