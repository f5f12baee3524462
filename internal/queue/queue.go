// Package queue is the durable job substrate on Redis Streams: at-least-once
// delivery through consumer groups, dedup-by-key on enqueue, exponential
// retry via a delay set, and dead-letter retention for exhausted jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/tracing"
)

// Redis key layout per job kind. The dedup key space is shared so a key
// collision across kinds would also collide here; keys are prefixed by
// kind at the call site ("sync:…", "att:…") which keeps them disjoint.
const (
	dedupPrefix = "jobs:dedup:"
	dedupTTL    = time.Hour
)

// Policy is the per-kind retry and retention contract.
type Policy struct {
	Stream      string
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	CompletedKeep int
	CompletedAge  time.Duration
	FailedKeep    int
	FailedAge     time.Duration
}

// Policies maps every job kind the service runs to its stream and policy.
func Policies() map[string]Policy {
	return map[string]Policy{
		out.JobKindEmailSync: {
			Stream:        "jobs:email",
			MaxAttempts:   3,
			BackoffBase:   5 * time.Second,
			BackoffCap:    60 * time.Second,
			CompletedKeep: 100,
			CompletedAge:  24 * time.Hour,
			FailedKeep:    500,
			FailedAge:     7 * 24 * time.Hour,
		},
		out.JobKindAttachment: {
			Stream:        "jobs:attachment",
			MaxAttempts:   2,
			BackoffBase:   5 * time.Second,
			BackoffCap:    60 * time.Second,
			CompletedKeep: 100,
			CompletedAge:  24 * time.Hour,
			FailedKeep:    500,
			FailedAge:     7 * 24 * time.Hour,
		},
	}
}

func (p Policy) retryKey() string     { return p.Stream + ":retry" }
func (p Policy) deadKey() string      { return p.Stream + ":dead" }
func (p Policy) completedKey() string { return p.Stream + ":completed" }
func (p Policy) failedKey() string    { return p.Stream + ":failed" }

// backoff returns the delay before re-running attempt n (1-based count of
// failures so far), doubling from the base up to the cap.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// Job is the wire envelope carried on the stream. Attempt counts failures
// already spent; a freshly enqueued job is at attempt 0.
type Job struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Key        string            `json:"key,omitempty"`
	Attempt    int               `json:"attempt"`
	Payload    json.RawMessage   `json:"payload"`
	Trace      map[string]string `json:"trace,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Queue is the producer side of the substrate.
type Queue struct {
	client   *redis.Client
	policies map[string]Policy
	log      zerolog.Logger
}

// New builds the producer over a shared Redis client.
func New(client *redis.Client, log zerolog.Logger) *Queue {
	return &Queue{
		client:   client,
		policies: Policies(),
		log:      log.With().Str("component", "queue").Logger(),
	}
}

var _ out.JobQueue = (*Queue)(nil)

// Enqueue adds a job to the kind's stream. When jobKey is set and a
// pending or active job already holds it, the existing job id comes back
// instead of a new entry.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, jobKey string) (*out.EnqueueResult, error) {
	policy, ok := q.policies[kind]
	if !ok {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Key:        jobKey,
		Payload:    data,
		Trace:      tracing.Inject(ctx),
		EnqueuedAt: time.Now().UTC(),
	}

	if jobKey != "" {
		set, err := q.client.SetNX(ctx, dedupPrefix+jobKey, job.ID, dedupTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to reserve dedup key: %w", err)
		}
		if !set {
			existing, err := q.client.Get(ctx, dedupPrefix+jobKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return nil, fmt.Errorf("failed to read dedup key: %w", err)
			}
			q.log.Debug().Str("kind", kind).Str("key", jobKey).
				Str("job_id", existing).Msg("enqueue collapsed onto pending job")
			return &out.EnqueueResult{JobID: existing, Deduped: true}, nil
		}
	}

	if err := addJob(ctx, q.client, policy.Stream, job); err != nil {
		// The stream add failed after the dedup reservation; release it so
		// a retry of the same notification is not silently swallowed.
		if jobKey != "" {
			q.client.Del(ctx, dedupPrefix+jobKey)
		}
		return nil, err
	}

	return &out.EnqueueResult{JobID: job.ID}, nil
}

// Counts reports queue depth by state for one kind.
func (q *Queue) Counts(ctx context.Context, kind string) (*out.QueueCounts, error) {
	policy, ok := q.policies[kind]
	if !ok {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	length, err := q.client.XLen(ctx, policy.Stream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read stream length: %w", err)
	}

	var active int64
	pending, err := q.client.XPending(ctx, policy.Stream, consumerGroup).Result()
	if err == nil {
		active = pending.Count
	} else if !isMissingGroup(err) && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read pending count: %w", err)
	}

	delayed, err := q.client.ZCard(ctx, policy.retryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read retry set: %w", err)
	}
	completed, err := q.client.ZCard(ctx, policy.completedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read completed set: %w", err)
	}
	failed, err := q.client.ZCard(ctx, policy.failedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed set: %w", err)
	}

	waiting := length - active
	if waiting < 0 {
		waiting = 0
	}

	return &out.QueueCounts{
		Waiting:   waiting,
		Active:    active,
		Delayed:   delayed,
		Completed: completed,
		Failed:    failed,
	}, nil
}

// ReleaseKey drops a dedup reservation ahead of its TTL. The consumer
// calls this when a job reaches a terminal state.
func (q *Queue) ReleaseKey(ctx context.Context, jobKey string) {
	if jobKey == "" {
		return
	}
	if err := q.client.Del(ctx, dedupPrefix+jobKey).Err(); err != nil {
		q.log.Warn().Err(err).Str("key", jobKey).Msg("failed to release dedup key")
	}
}

// addJob appends an envelope to a stream under the single "data" field.
func addJob(ctx context.Context, client *redis.Client, stream string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{"data": string(raw)},
	}).Err(); err != nil {
		return fmt.Errorf("failed to add job to %s: %w", stream, err)
	}
	return nil
}

func isMissingGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}
