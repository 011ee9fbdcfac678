// Package worker implements the loop that drains queued batches into the
// orchestrator.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/metrics"
	"github.com/JakeFAU/media-scraper/internal/scrape"
)

// BatchRunner executes already-created jobs to completion.
type BatchRunner interface {
	RunBatch(ctx context.Context, jobs []scrape.Job) scrape.BatchResult
}

// dequeueRetryDelay is the pause after a failed Dequeue before trying again.
const dequeueRetryDelay = time.Second

// Worker consumes queue items and hands their jobs to the runner.
type Worker struct {
	queue      scrape.Queue
	runner     BatchRunner
	logger     *zap.Logger
	retryDelay time.Duration
}

// New constructs a Worker.
func New(queue scrape.Queue, runner BatchRunner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		queue:      queue,
		runner:     runner,
		logger:     logger,
		retryDelay: dequeueRetryDelay,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !w.pause(ctx) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued batch", zap.String("batch_id", item.BatchID), zap.Int("jobs", len(item.Jobs)))
		w.process(ctx, item)
	}
}

// pause waits out the retry delay; it reports false if the context ended first.
func (w *Worker) pause(ctx context.Context) bool {
	timer := time.NewTimer(w.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) process(ctx context.Context, item scrape.QueueItem) {
	if len(item.Jobs) == 0 {
		w.logger.Warn("empty batch dropped", zap.String("batch_id", item.BatchID))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jobs := make([]scrape.Job, 0, len(item.Jobs))
	for _, ref := range item.Jobs {
		jobs = append(jobs, scrape.Job{
			ID:        ref.ID,
			SourceURL: ref.SourceURL,
			Status:    scrape.JobStatusPending,
		})
	}
	result := w.runner.RunBatch(ctx, jobs)

	failed := 0
	for _, outcome := range result.Results {
		if outcome.Status == scrape.JobStatusFailed {
			failed++
		}
	}
	w.logger.Info("batch finished",
		zap.String("batch_id", item.BatchID),
		zap.Int("jobs", result.TotalRequests),
		zap.Int("failed", failed),
	)
}
