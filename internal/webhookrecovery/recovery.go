// Package webhookrecovery consumes verified gateway events and heals any
// divergence between internal state and the gateway's authoritative
// record. It is a recovery path, never a primary one: the Money State
// Engine already performs every write inline, so this package only fills
// the gap left when a process crashes between "gateway call succeeded"
// and "local commit."
package webhookrecovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/localtask/core/internal/alerts"
	"github.com/localtask/core/internal/gateway"
	"github.com/localtask/core/internal/idgen"
	"github.com/localtask/core/internal/metrics"
	"github.com/localtask/core/internal/moneystate"
	"github.com/localtask/core/internal/store"
	"github.com/localtask/core/internal/tasklifecycle"
	"github.com/localtask/core/internal/traces"
)

const (
	eventPaymentIntentSucceeded = "payment_intent.succeeded"
	eventTransferCreated        = "transfer.created"

	// RetryJobType names the job_queue rows this package enqueues when a
	// recovery attempt fails after the idempotency claim was already won.
	RetryJobType = "webhook_recovery_retry"
)

// Pipeline is the Webhook Recovery Pipeline.
type Pipeline struct {
	guard   *store.Guard
	backend moneystate.Backend
	alerts  *alerts.Sink
	logger  *slog.Logger
	feeBps  int64
	jobs    store.JobQueueStore // nil disables durable retries
}

// New creates a Pipeline. platformFeeBps must match the Money State
// Engine's configuration so a recovered hold carries the same fee split
// the engine would have written. jobs may be nil to disable durable
// retries of failed recovery attempts.
func New(guard *store.Guard, backend moneystate.Backend, alertSink *alerts.Sink, logger *slog.Logger, platformFeeBps int64, jobs store.JobQueueStore) *Pipeline {
	return &Pipeline{guard: guard, backend: backend, alerts: alertSink, logger: logger, feeBps: platformFeeBps, jobs: jobs}
}

// stripeObject is the minimal shape the pipeline needs out of a gateway
// event's nested data.object, common to payment_intent and transfer
// events.
type stripeObject struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	Metadata      map[string]string `json:"metadata"`
	LatestCharge  string            `json:"latest_charge"`
	TransferGroup string            `json:"transfer_group"`
	Destination   string            `json:"destination"`
}

type stripeEventEnvelope struct {
	Data struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

// retryJob is the payload persisted to job_queue for a failed recovery.
type retryJob struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Body      json.RawMessage `json:"body"`
}

// HandleEvent processes one verified gateway event. It never returns an
// error to the transport layer: any internal failure is logged, an
// operator alert raised, and a durable retry enqueued, because the
// gateway will retry a non-2xx response forever.
func (p *Pipeline) HandleEvent(ctx context.Context, event *gateway.Event) {
	ctx, span := traces.StartSpan(ctx, "webhookrecovery.handle", traces.EventType(event.Type))
	defer span.End()

	won, err := p.guard.Claim(ctx, event.ID, event.Type, event.Payload)
	if err != nil {
		p.logger.Warn("webhookrecovery: idempotency claim failed, reprocessing", "event_id", event.ID, "error", err)
	}
	if !won {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return
	}

	if err := p.process(ctx, event); err != nil {
		p.logger.Error("webhookrecovery: recovery failed", "event_id", event.ID, "error", err)
		p.alerts.Fire(ctx, alerts.TypeLedgerDriftDetected, "webhook recovery step failed", map[string]string{
			"event_id": event.ID, "event_type": event.Type,
		})
		p.enqueueRetry(ctx, event)
	}
}

// process parses and dispatches one event whose idempotency claim has
// already been won. Both the inline path and the retry timer call it.
func (p *Pipeline) process(ctx context.Context, event *gateway.Event) error {
	var envelope stripeEventEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		// A payload that cannot parse will never parse; alert, don't retry.
		p.alerts.Fire(ctx, alerts.TypeOrderingViolation, "unparseable gateway event payload", map[string]string{"event_id": event.ID})
		return nil
	}
	obj := envelope.Data.Object
	taskID := obj.Metadata["task_id"]
	if taskID == "" {
		// Not every event carries our task_id metadata (account updates,
		// unrelated charges); those are observed-only.
		return nil
	}

	var (
		recoverErr error
		kind       string
	)
	switch event.Type {
	case eventPaymentIntentSucceeded:
		kind = "recover_hold"
		recoverErr = p.recoverHoldEscrow(ctx, taskID, obj)
	case eventTransferCreated:
		kind = "recover_release"
		recoverErr = p.recoverReleaseEscrow(ctx, taskID, obj)
	default:
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "observed").Inc()
		return nil
	}
	if recoverErr != nil {
		metrics.RecoveryActionsTotal.WithLabelValues(kind, "error").Inc()
		return recoverErr
	}
	metrics.RecoveryActionsTotal.WithLabelValues(kind, "ok").Inc()
	metrics.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
	return nil
}

func (p *Pipeline) enqueueRetry(ctx context.Context, event *gateway.Event) {
	if p.jobs == nil {
		return
	}
	payload, err := json.Marshal(retryJob{EventID: event.ID, EventType: event.Type, Body: event.Payload})
	if err != nil {
		return
	}
	if err := p.jobs.Enqueue(ctx, RetryJobType, payload, time.Now().Add(30*time.Second)); err != nil {
		p.logger.Error("webhookrecovery: failed to enqueue retry", "event_id", event.ID, "error", err)
	}
}

// recoverHoldEscrow heals a crash between a successful payment intent
// confirmation and the local HOLD_ESCROW commit: if the task has no
// money-state lock yet, it creates the Escrow Hold and Money State Lock
// directly in held, and marks the task ACCEPTED.
func (p *Pipeline) recoverHoldEscrow(ctx context.Context, taskID string, obj stripeObject) error {
	return p.backend.WithStores(ctx, func(s moneystate.Stores) error {
		existing, err := s.Locks.LockForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if existing != nil && existing.CurrentState != moneystate.StateInitial {
			return nil
		}

		lock := &moneystate.Lock{
			TaskID:                 taskID,
			CurrentState:           moneystate.StateHeld,
			GatewayPaymentIntentID: obj.ID,
			Version:                1,
		}
		if err := s.Locks.Insert(ctx, lock); err != nil {
			return err
		}

		fee, net := moneystate.FeeSplit(obj.Amount, p.feeBps)
		hold := &moneystate.EscrowHold{
			TaskID:            taskID,
			GrossAmount:       obj.Amount,
			PlatformFeeAmount: fee,
			NetPayoutAmount:   net,
			Currency:          "usd",
			TransferGroup:     obj.TransferGroup,
			Status:            moneystate.StateHeld,
		}
		if err := s.Escrows.InsertHold(ctx, hold); err != nil {
			return err
		}

		status, err := s.Tasks.GetStatus(ctx, taskID)
		if err != nil {
			return err
		}
		if status == tasklifecycle.StatusOpen {
			if err := s.Tasks.SetStatus(ctx, taskID, tasklifecycle.StatusAccepted); err != nil {
				return err
			}
		}
		return nil
	})
}

// recoverReleaseEscrow heals a crash between a successful transfer and the
// local RELEASE_PAYOUT commit. Rewards are never awarded from this path —
// they are coupled to RELEASE_PAYOUT in the Money State Engine, and this
// pipeline is pure reconciliation.
func (p *Pipeline) recoverReleaseEscrow(ctx context.Context, taskID string, obj stripeObject) error {
	return p.backend.WithStores(ctx, func(s moneystate.Stores) error {
		lock, err := s.Locks.LockForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if lock == nil || lock.CurrentState != moneystate.StateHeld {
			return nil
		}

		hold, err := s.Escrows.GetHold(ctx, taskID)
		if err != nil {
			return err
		}

		if err := s.Locks.UpdateState(ctx, taskID, lock.Version, moneystate.StateReleased, obj.ID); err != nil {
			return err
		}
		if hold != nil {
			if err := s.Escrows.UpdateHoldStatus(ctx, taskID, moneystate.StateReleased); err != nil {
				return err
			}
		}

		netAmount := obj.Amount
		if hold != nil {
			netAmount = hold.NetPayoutAmount
		}
		payout := &moneystate.WorkerPayout{
			ID:                idgen.WithPrefix("payout_"),
			EscrowTaskID:      taskID,
			GatewayTransferID: obj.ID,
			Type:              moneystate.PayoutStandard,
			NetAmount:         netAmount,
			Status:            moneystate.PayoutCompleted,
		}
		return s.Payouts.InsertPayout(ctx, payout)
	})
}
