package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// consumerGroup is shared by every worker process; Redis routes each
// entry to exactly one live consumer in the group.
const consumerGroup = "mailsift"

// Timings for the background maintenance loops.
const (
	readBlock        = 5 * time.Second
	retryInterval    = time.Second
	reclaimInterval  = 30 * time.Second
	reclaimMinIdle   = 2 * time.Minute
	retentionEvery   = time.Minute
	busyGroupMessage = "BUSYGROUP Consumer Group name already exists"
)

// Handler processes one delivered job. A non-nil error sends the job back
// through the retry schedule until its attempts run out.
type Handler func(ctx context.Context, job *Job) error

// ConsumerConfig wires one kind's consuming loop.
type ConsumerConfig struct {
	Kind        string
	Consumer    string
	Concurrency int
	Handler     Handler
	Logger      zerolog.Logger
}

// Consumer drains one job kind with a bounded worker set. Delivery is
// at-least-once: an entry stays pending until acknowledged, and entries
// stranded by a dead process are reclaimed after an idle window.
type Consumer struct {
	client   *redis.Client
	queue    *Queue
	policy   Policy
	kind     string
	consumer string
	workers  int
	handler  Handler
	log      zerolog.Logger

	wg sync.WaitGroup
}

// NewConsumer builds a consumer for one job kind.
func NewConsumer(client *redis.Client, q *Queue, cfg *ConsumerConfig) (*Consumer, error) {
	policy, ok := q.policies[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown job kind %q", cfg.Kind)
	}
	workers := cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		client:   client,
		queue:    q,
		policy:   policy,
		kind:     cfg.Kind,
		consumer: cfg.Consumer,
		workers:  workers,
		handler:  cfg.Handler,
		log: cfg.Logger.With().
			Str("component", "consumer").
			Str("kind", cfg.Kind).
			Logger(),
	}, nil
}

// Run consumes until ctx is cancelled, then waits for in-flight handlers.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", consumerGroup).
		Str("consumer", c.consumer).
		Int("concurrency", c.workers).
		Msg("starting consumer")

	c.createGroup(ctx)

	go c.moveDueRetries(ctx)
	go c.reclaimStuckPending(ctx)
	go c.enforceRetention(ctx)

	sem := make(chan struct{}, c.workers)

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: c.consumer,
			Streams:  []string{c.policy.Stream, ">"},
			Count:    int64(c.workers),
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			c.log.Error().Err(err).Msg("error reading from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					c.wg.Wait()
					return ctx.Err()
				}
				c.wg.Add(1)
				go func(msg redis.XMessage) {
					defer c.wg.Done()
					defer func() { <-sem }()
					c.process(ctx, msg)
				}(msg)
			}
		}
	}
}

// process runs one delivered entry through the handler and settles it.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	job, err := decodeJob(msg)
	if err != nil {
		// Nothing downstream can make sense of this entry; drop it.
		c.log.Error().Err(err).Str("entry", msg.ID).Msg("discarding undecodable entry")
		c.ack(ctx, msg.ID)
		return
	}

	log := c.log.With().Str("job_id", job.ID).Int("attempt", job.Attempt).Logger()

	if err := c.handler(ctx, job); err != nil {
		log.Warn().Err(err).Msg("job handler failed")
		c.settleFailure(ctx, msg.ID, job)
		return
	}

	c.ack(ctx, msg.ID)
	c.queue.ReleaseKey(ctx, job.Key)
	c.record(ctx, c.policy.completedKey(), job)
}

// settleFailure schedules a retry or dead-letters the job. Either way the
// original entry is acknowledged so it leaves the pending list; the retry
// copy re-enters the stream when its delay elapses.
func (c *Consumer) settleFailure(ctx context.Context, entryID string, job *Job) {
	job.Attempt++
	c.ack(ctx, entryID)

	if job.Attempt < c.policy.MaxAttempts {
		delay := c.policy.backoff(job.Attempt)
		raw, err := json.Marshal(job)
		if err != nil {
			c.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to marshal retry envelope")
			return
		}
		due := float64(time.Now().Add(delay).UnixMilli())
		if err := c.client.ZAdd(ctx, c.policy.retryKey(), redis.Z{Score: due, Member: string(raw)}).Err(); err != nil {
			c.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to schedule retry")
			return
		}
		c.log.Info().Str("job_id", job.ID).Dur("delay", delay).
			Int("attempt", job.Attempt).Msg("job scheduled for retry")
		return
	}

	// Retries exhausted: keep the envelope on the dead stream for operator
	// inspection and release the dedup key so a fresh delivery can run.
	if raw, err := json.Marshal(job); err == nil {
		if err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: c.policy.deadKey(),
			ID:     "*",
			Values: map[string]interface{}{
				"data":      string(raw),
				"failed_at": time.Now().UTC().Format(time.RFC3339),
				"consumer":  c.consumer,
			},
		}).Err(); err != nil {
			c.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to dead-letter job")
		}
	}
	c.queue.ReleaseKey(ctx, job.Key)
	c.record(ctx, c.policy.failedKey(), job)
	c.log.Error().Str("job_id", job.ID).Int("attempts", job.Attempt).Msg("job moved to dead letter")
}

// moveDueRetries returns delayed jobs to the stream once their backoff
// elapses.
func (c *Consumer) moveDueRetries(ctx context.Context) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		due, err := c.client.ZRangeByScore(ctx, c.policy.retryKey(), &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 100,
		}).Result()
		if err != nil || len(due) == 0 {
			continue
		}

		for _, member := range due {
			removed, err := c.client.ZRem(ctx, c.policy.retryKey(), member).Result()
			if err != nil || removed == 0 {
				// Another process claimed this retry.
				continue
			}
			var job Job
			if err := json.Unmarshal([]byte(member), &job); err != nil {
				c.log.Error().Err(err).Msg("dropping undecodable retry entry")
				continue
			}
			if err := addJob(ctx, c.client, c.policy.Stream, &job); err != nil {
				c.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to requeue retry")
				continue
			}
			c.log.Debug().Str("job_id", job.ID).Int("attempt", job.Attempt).Msg("retry requeued")
		}
	}
}

// reclaimStuckPending claims entries that another consumer read but never
// acknowledged, typically after a crash or a kill past the drain deadline.
func (c *Consumer) reclaimStuckPending(ctx context.Context) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.policy.Stream,
			Group:    consumerGroup,
			Consumer: c.consumer,
			MinIdle:  reclaimMinIdle,
			Start:    "0-0",
			Count:    int64(c.workers),
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && !isMissingGroup(err) {
				c.log.Warn().Err(err).Msg("error reclaiming pending entries")
			}
			continue
		}

		for _, msg := range claimed {
			c.log.Info().Str("entry", msg.ID).Msg("reclaimed stuck pending entry")
			c.process(ctx, msg)
		}
	}
}

// enforceRetention trims the completed and failed records to their
// count and age budgets.
func (c *Consumer) enforceRetention(ctx context.Context) {
	ticker := time.NewTicker(retentionEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.trim(ctx, c.policy.completedKey(), c.policy.CompletedKeep, c.policy.CompletedAge)
		c.trim(ctx, c.policy.failedKey(), c.policy.FailedKeep, c.policy.FailedAge)
		// The dead stream mirrors the failed set; keep it to the same count.
		if err := c.client.XTrimMaxLen(ctx, c.policy.deadKey(), int64(c.policy.FailedKeep)).Err(); err != nil {
			c.log.Warn().Err(err).Msg("failed to trim dead stream")
		}
	}
}

func (c *Consumer) trim(ctx context.Context, key string, keep int, age time.Duration) {
	cutoff := strconv.FormatInt(time.Now().Add(-age).UnixMilli(), 10)
	if err := c.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to trim by age")
	}
	if err := c.client.ZRemRangeByRank(ctx, key, 0, int64(-keep-1)).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to trim by count")
	}
}

// record stamps a terminal job into a scored set, newest last.
func (c *Consumer) record(ctx context.Context, key string, job *Job) {
	score := float64(time.Now().UnixMilli())
	if err := c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to record job outcome")
	}
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if err := c.client.XAck(ctx, c.policy.Stream, consumerGroup, entryID).Err(); err != nil {
		c.log.Error().Err(err).Str("entry", entryID).Msg("error acknowledging entry")
		return
	}
	if err := c.client.XDel(ctx, c.policy.Stream, entryID).Err(); err != nil {
		c.log.Warn().Err(err).Str("entry", entryID).Msg("error deleting entry")
	}
}

func (c *Consumer) createGroup(ctx context.Context) {
	err := c.client.XGroupCreateMkStream(ctx, c.policy.Stream, consumerGroup, "0").Err()
	if err != nil && err.Error() != busyGroupMessage {
		c.log.Warn().Err(err).Msg("error creating consumer group")
	}
}

// decodeJob unwraps the "data" field of a stream entry.
func decodeJob(msg redis.XMessage) (*Job, error) {
	data, ok := msg.Values["data"]
	if !ok {
		return nil, fmt.Errorf("entry %s has no data field", msg.ID)
	}
	raw, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("entry %s data is not a string", msg.ID)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("entry %s envelope is malformed: %w", msg.ID, err)
	}
	return &job, nil
}
