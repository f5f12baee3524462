package bootstrap

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mailsift_server/adapter/in/worker"
	out "mailsift_server/core/port/out"
	"mailsift_server/internal/queue"
)

// Worker runs the consuming side: one consumer per job kind plus the
// watch renewal sweeper.
type Worker struct {
	deps      *Dependencies
	consumers []*queue.Consumer
	sweeper   *worker.WatchSweeper
}

// NewWorker builds consumers for both job kinds. It fails when the queue
// is disabled; a worker process without a queue has nothing to drain.
func NewWorker(deps *Dependencies) (*Worker, error) {
	if deps.Queue == nil {
		return nil, fmt.Errorf("worker mode requires USE_QUEUE=true and a reachable redis")
	}
	cfg := deps.Config

	handler := worker.NewHandler(
		worker.NewSyncProcessor(deps.Sync, deps.Log),
		worker.NewAttachmentProcessor(deps.Extract, deps.Log),
		deps.Log,
	)

	specs := []queue.ConsumerConfig{
		{
			Kind:        out.JobKindEmailSync,
			Consumer:    cfg.WorkerID,
			Concurrency: cfg.EmailConcurrency,
			Handler:     handler.Process,
			Logger:      deps.Log,
		},
		{
			Kind:        out.JobKindAttachment,
			Consumer:    cfg.WorkerID,
			Concurrency: cfg.AttachmentConcurrency,
			Handler:     handler.Process,
			Logger:      deps.Log,
		},
	}

	w := &Worker{
		deps:    deps,
		sweeper: worker.NewWatchSweeper(deps.Watches, deps.Log),
	}
	for i := range specs {
		consumer, err := queue.NewConsumer(deps.Redis, deps.Queue, &specs[i])
		if err != nil {
			return nil, err
		}
		w.consumers = append(w.consumers, consumer)
	}
	return w, nil
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, consumer := range w.consumers {
		g.Go(func() error { return consumer.Run(ctx) })
	}
	g.Go(func() error { return w.sweeper.Run(ctx) })
	return g.Wait()
}
