package webhookrecovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/localtask/core/internal/alerts"
	"github.com/localtask/core/internal/gateway"
	"github.com/localtask/core/internal/store"
)

// maxRetryAttempts bounds how often a failed recovery is re-driven before
// it is dropped with an operator alert.
const maxRetryAttempts = 5

// Timer periodically re-drives failed recovery attempts from job_queue.
// The idempotency claim for these events was already won by the inline
// path, so the timer calls process directly.
type Timer struct {
	pipeline *Pipeline
	jobs     store.JobQueueStore
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a retry timer over the pipeline's job queue.
func NewTimer(pipeline *Pipeline, jobs store.JobQueueStore, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Timer{pipeline: pipeline, jobs: jobs, interval: interval, logger: logger, stop: make(chan struct{})}
}

// Start begins the retry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

// RunOnce drains one batch of due retry jobs. Exported so tests and
// operators can drive a pass without the ticker.
func (t *Timer) RunOnce(ctx context.Context) {
	jobs, err := t.jobs.DequeueDue(ctx, 50)
	if err != nil {
		t.logger.Warn("webhookrecovery: dequeue retries failed", "error", err)
		return
	}

	for _, job := range jobs {
		if job.JobType != RetryJobType {
			continue
		}
		var r retryJob
		if err := json.Unmarshal(job.Payload, &r); err != nil {
			_ = t.jobs.Delete(ctx, job.ID)
			continue
		}

		err := t.pipeline.process(ctx, &gateway.Event{ID: r.EventID, Type: r.EventType, Payload: r.Body})
		if err == nil {
			_ = t.jobs.Delete(ctx, job.ID)
			continue
		}

		if job.Attempts+1 >= maxRetryAttempts {
			t.logger.Error("webhookrecovery: giving up on recovery retry",
				"event_id", r.EventID, "attempts", job.Attempts+1, "error", err)
			t.pipeline.alerts.Fire(ctx, alerts.TypeLedgerDriftDetected,
				"webhook recovery retry exhausted", map[string]string{"event_id": r.EventID})
			_ = t.jobs.Delete(ctx, job.ID)
			continue
		}

		// Exponential backoff: 1m, 2m, 4m, ...
		backoff := time.Minute << uint(job.Attempts)
		_ = t.jobs.RecordFailure(ctx, job.ID, fmt.Sprint(err), time.Now().Add(backoff))
	}
}
