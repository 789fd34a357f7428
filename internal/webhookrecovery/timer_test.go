package webhookrecovery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localtask/core/internal/alerts"
	"github.com/localtask/core/internal/moneystate"
	"github.com/localtask/core/internal/store"
	"github.com/localtask/core/internal/tasklifecycle"
)

// flakyBackend fails the first n WithStores calls, then delegates.
type flakyBackend struct {
	inner    moneystate.Backend
	failures int
}

func (b *flakyBackend) WithStores(ctx context.Context, fn func(moneystate.Stores) error) error {
	if b.failures > 0 {
		b.failures--
		return errors.New("transient store failure")
	}
	return b.inner.WithStores(ctx, fn)
}

func TestRetryTimer_RedrivesFailedRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	memBackend := moneystate.NewMemoryBackend()
	memBackend.Tasks.Seed("task_retry", tasklifecycle.StatusOpen)
	flaky := &flakyBackend{inner: memBackend, failures: 1}
	guard := store.NewGuard(store.NewMemoryEventStore(), 100)
	jobs := store.NewMemoryJobQueueStore()
	sink := alerts.New(logger, nil, nil)
	p := New(guard, flaky, sink, logger, 1000, jobs)

	// First delivery wins the claim but fails on the flaky store; a retry
	// job is queued and the gateway is told success either way.
	p.HandleEvent(context.Background(), paymentIntentEvent("evt_retry", "task_retry", 10000))
	require.Equal(t, 1, jobs.Len(), "failed recovery must enqueue a durable retry")

	lock, _ := memBackend.Locks.LockForUpdate(context.Background(), "task_retry")
	require.Nil(t, lock)

	// The timer re-drives it without re-claiming the event id.
	timer := NewTimer(p, jobs, 0, logger)
	jobs.MakeAllDue()
	timer.RunOnce(context.Background())

	assert.Equal(t, 0, jobs.Len(), "successful retry must delete the job")
	lock, err := memBackend.Locks.LockForUpdate(context.Background(), "task_retry")
	require.NoError(t, err)
	require.NotNil(t, lock, "retry must complete the recovery")
	assert.Equal(t, moneystate.StateHeld, lock.CurrentState)
}

func TestRetryTimer_GivesUpAfterMaxAttempts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	memBackend := moneystate.NewMemoryBackend()
	memBackend.Tasks.Seed("task_doomed", tasklifecycle.StatusOpen)
	flaky := &flakyBackend{inner: memBackend, failures: 1 + maxRetryAttempts}
	guard := store.NewGuard(store.NewMemoryEventStore(), 100)
	jobs := store.NewMemoryJobQueueStore()
	sink := alerts.New(logger, nil, nil)
	p := New(guard, flaky, sink, logger, 1000, jobs)

	p.HandleEvent(context.Background(), paymentIntentEvent("evt_doomed", "task_doomed", 10000))
	require.Equal(t, 1, jobs.Len())

	timer := NewTimer(p, jobs, 0, logger)
	for i := 0; i < maxRetryAttempts; i++ {
		jobs.MakeAllDue()
		timer.RunOnce(context.Background())
	}

	assert.Equal(t, 0, jobs.Len(), "exhausted retries must be dropped, not retried forever")
}
