package webhookrecovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localtask/core/internal/alerts"
	"github.com/localtask/core/internal/gateway"
	"github.com/localtask/core/internal/moneystate"
	"github.com/localtask/core/internal/store"
	"github.com/localtask/core/internal/tasklifecycle"
)

func newPipeline() (*Pipeline, *moneystate.MemoryBackend) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	backend := moneystate.NewMemoryBackend()
	guard := store.NewGuard(store.NewMemoryEventStore(), 100)
	sink := alerts.New(logger, nil, nil)
	jobs := store.NewMemoryJobQueueStore()
	return New(guard, backend, sink, logger, 1000, jobs), backend
}

func paymentIntentEvent(id, taskID string, amount int64) *gateway.Event {
	payload := fmt.Sprintf(`{"data":{"object":{"id":"pi_recovered","amount":%d,"metadata":{"task_id":%q},"transfer_group":"task_%s"}}}`,
		amount, taskID, taskID)
	return &gateway.Event{ID: id, Type: "payment_intent.succeeded", Payload: []byte(payload)}
}

func transferEvent(id, taskID string) *gateway.Event {
	payload := fmt.Sprintf(`{"data":{"object":{"id":"tr_recovered","amount":8800,"metadata":{"task_id":%q}}}}`, taskID)
	return &gateway.Event{ID: id, Type: "transfer.created", Payload: []byte(payload)}
}

func TestRecoverHoldEscrow_CreatesLockAndHold(t *testing.T) {
	p, backend := newPipeline()
	backend.Tasks.Seed("task_5", tasklifecycle.StatusOpen)

	p.HandleEvent(context.Background(), paymentIntentEvent("evt_1", "task_5", 10000))

	lock, err := backend.Locks.LockForUpdate(context.Background(), "task_5")
	require.NoError(t, err)
	require.NotNil(t, lock, "recovery must create the missing money lock")
	assert.Equal(t, moneystate.StateHeld, lock.CurrentState)
	assert.Equal(t, "pi_recovered", lock.GatewayPaymentIntentID)

	hold, err := backend.Escrows.GetHold(context.Background(), "task_5")
	require.NoError(t, err)
	require.NotNil(t, hold)
	assert.Equal(t, int64(10000), hold.GrossAmount)
	assert.Equal(t, int64(1000), hold.PlatformFeeAmount, "recovered hold carries the engine's fee split")
	assert.Equal(t, int64(9000), hold.NetPayoutAmount)

	status, err := backend.Tasks.GetStatus(context.Background(), "task_5")
	require.NoError(t, err)
	assert.Equal(t, tasklifecycle.StatusAccepted, status)
}

func TestRecoverHoldEscrow_NoOpWhenLockAlreadyHeld(t *testing.T) {
	p, backend := newPipeline()
	backend.Tasks.Seed("task_6", tasklifecycle.StatusAccepted)
	require.NoError(t, backend.Locks.Insert(context.Background(), &moneystate.Lock{
		TaskID:                 "task_6",
		CurrentState:           moneystate.StateHeld,
		GatewayPaymentIntentID: "pi_original",
		Version:                1,
	}))

	p.HandleEvent(context.Background(), paymentIntentEvent("evt_2", "task_6", 10000))

	lock, _ := backend.Locks.LockForUpdate(context.Background(), "task_6")
	assert.Equal(t, "pi_original", lock.GatewayPaymentIntentID, "existing lock must be untouched")
}

func TestRecoverReleaseEscrow_HealsHeldLock(t *testing.T) {
	p, backend := newPipeline()
	backend.Tasks.Seed("task_7", tasklifecycle.StatusCompleted)
	require.NoError(t, backend.Locks.Insert(context.Background(), &moneystate.Lock{
		TaskID:                 "task_7",
		CurrentState:           moneystate.StateHeld,
		GatewayPaymentIntentID: "pi_7",
		Version:                1,
	}))
	require.NoError(t, backend.Escrows.InsertHold(context.Background(), &moneystate.EscrowHold{
		TaskID: "task_7", GrossAmount: 10000, PlatformFeeAmount: 1200, NetPayoutAmount: 8800,
		Currency: "usd", Status: moneystate.StateHeld,
	}))

	p.HandleEvent(context.Background(), transferEvent("evt_3", "task_7"))

	lock, _ := backend.Locks.LockForUpdate(context.Background(), "task_7")
	assert.Equal(t, moneystate.StateReleased, lock.CurrentState)

	payout, err := backend.Payouts.GetPayoutByTaskID(context.Background(), "task_7")
	require.NoError(t, err)
	require.NotNil(t, payout, "recovery must create the missing payout row")
	assert.Equal(t, int64(8800), payout.NetAmount)
}

func TestRecoverReleaseEscrow_NoOpWithoutHeldLock(t *testing.T) {
	p, backend := newPipeline()
	backend.Tasks.Seed("task_8", tasklifecycle.StatusCompleted)

	p.HandleEvent(context.Background(), transferEvent("evt_4", "task_8"))

	payout, _ := backend.Payouts.GetPayoutByTaskID(context.Background(), "task_8")
	assert.Nil(t, payout, "no lock means nothing to heal")
}

func TestHandleEvent_ConcurrentDuplicates_ExactlyOneProcessed(t *testing.T) {
	p, backend := newPipeline()
	backend.Tasks.Seed("task_9", tasklifecycle.StatusOpen)

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.HandleEvent(context.Background(), paymentIntentEvent("evt_dup", "task_9", 10000))
		}()
	}
	wg.Wait()

	// Exactly one delivery won the claim; the lock exists exactly once and
	// a replayed delivery after the fact is still a no-op.
	lock, err := backend.Locks.LockForUpdate(context.Background(), "task_9")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, int64(1), lock.Version)

	p.HandleEvent(context.Background(), paymentIntentEvent("evt_dup", "task_9", 10000))
	lock, _ = backend.Locks.LockForUpdate(context.Background(), "task_9")
	assert.Equal(t, int64(1), lock.Version)
}

func TestHandleEvent_IgnoresUnrelatedEventTypes(t *testing.T) {
	p, backend := newPipeline()
	backend.Tasks.Seed("task_10", tasklifecycle.StatusOpen)

	p.HandleEvent(context.Background(), &gateway.Event{
		ID:      "evt_5",
		Type:    "payout.paid",
		Payload: []byte(`{"data":{"object":{"id":"po_1","metadata":{"task_id":"task_10"}}}}`),
	})

	lock, _ := backend.Locks.LockForUpdate(context.Background(), "task_10")
	assert.Nil(t, lock, "observed-only events must not mutate state")
}

func TestHandleEvent_UnparseablePayload_DoesNotPanic(t *testing.T) {
	p, _ := newPipeline()
	p.HandleEvent(context.Background(), &gateway.Event{
		ID: "evt_6", Type: "payment_intent.succeeded", Payload: []byte(`{{{`),
	})
}

func TestHandleEvent_EventWithoutTaskID_Ignored(t *testing.T) {
	p, backend := newPipeline()
	p.HandleEvent(context.Background(), &gateway.Event{
		ID: "evt_7", Type: "payment_intent.succeeded",
		Payload: []byte(`{"data":{"object":{"id":"pi_x","amount":500,"metadata":{}}}}`),
	})
	lock, _ := backend.Locks.LockForUpdate(context.Background(), "")
	assert.Nil(t, lock)
}
