package moneystate

import (
	"context"
	"time"

	"github.com/localtask/core/internal/alerts"
	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/gateway"
	"github.com/localtask/core/internal/idgen"
	"github.com/localtask/core/internal/metrics"
	"github.com/localtask/core/internal/proof"
	"github.com/localtask/core/internal/reward"
	"github.com/localtask/core/internal/store"
	"github.com/localtask/core/internal/syncutil"
	"github.com/localtask/core/internal/tasklifecycle"
	"github.com/localtask/core/internal/traces"
	"github.com/localtask/core/internal/validation"
)

// Awarder is the Reward Ledger seam RELEASE_PAYOUT drives. *reward.Ledger
// satisfies this directly.
type Awarder interface {
	AwardForTask(ctx context.Context, taskID, userID string) (reward.AwardResult, error)
}

// Engine is the Money State Engine.
type Engine struct {
	backend Backend
	gw      gateway.Client
	proof   *proof.Gate
	reward  Awarder
	alerts  *alerts.Sink
	admin   store.AdminLockStore

	platformFeeBps      int64
	instantPayoutFeeBps int64

	// Per-task in-process lock, first line of defense in front of the
	// row-level FOR UPDATE lock. Context-aware so a caller whose deadline
	// expires while queued behind a slow SAGA gives up instead of piling on.
	locks syncutil.ContextShardedMutex
}

// Config configures fee basis points the engine applies when computing
// EscrowHold/WorkerPayout amounts.
type Config struct {
	PlatformFeeBps      int64
	InstantPayoutFeeBps int64
}

// New creates a Money State Engine.
func New(backend Backend, gw gateway.Client, proofGate *proof.Gate, rewardLedger Awarder, alertSink *alerts.Sink, admin store.AdminLockStore, cfg Config) *Engine {
	return &Engine{
		backend:             backend,
		gw:                  gw,
		proof:               proofGate,
		reward:              rewardLedger,
		alerts:              alertSink,
		admin:               admin,
		platformFeeBps:      cfg.PlatformFeeBps,
		instantPayoutFeeBps: cfg.InstantPayoutFeeBps,
	}
}

// Handle is the engine's single entry point.
func (e *Engine) Handle(ctx context.Context, taskID string, event Event, c Ctx) (Result, error) {
	ctx, span := traces.StartSpan(ctx, "moneystate."+string(event), traces.TaskID(taskID))
	defer span.End()

	unlock, err := e.locks.LockContext(ctx, taskID)
	if err != nil {
		return Result{}, coreerr.Wrap(coreerr.ConcurrencyConflict,
			"moneystate: gave up waiting for task lock on "+taskID, err)
	}
	defer unlock()

	started := time.Now()
	result, err := e.dispatch(ctx, taskID, event, c)
	metrics.MoneyStateStepDuration.WithLabelValues(string(event)).Observe(time.Since(started).Seconds())
	metrics.MoneyStateTransitionsTotal.WithLabelValues(string(event), outcomeLabel(result, err)).Inc()
	return result, err
}

func (e *Engine) dispatch(ctx context.Context, taskID string, event Event, c Ctx) (Result, error) {
	switch event {
	case EventHoldEscrow:
		return e.handleHoldEscrow(ctx, taskID, c)
	case EventReleasePayout:
		return e.handleReleasePayout(ctx, taskID, c)
	case EventRefundEscrow:
		return e.handleRefundEscrow(ctx, taskID, c)
	case EventForceRefund:
		return e.handleForceRefund(ctx, taskID, c)
	default:
		return Result{}, coreerr.New(coreerr.IllegalTransition, "moneystate: unknown event "+string(event))
	}
}

func outcomeLabel(result Result, err error) string {
	switch {
	case err == nil:
		return "ok"
	case result.AlreadyApplied:
		return "replay"
	default:
		return "error"
	}
}

func (e *Engine) handleHoldEscrow(ctx context.Context, taskID string, c Ctx) (Result, error) {
	var result Result
	err := e.backend.WithStores(ctx, func(s Stores) error {
		existing, err := s.Locks.LockForUpdate(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: lock lookup", err)
		}
		if existing != nil {
			if !Allowed(existing.CurrentState, EventHoldEscrow) {
				result = Result{TaskID: taskID, Event: EventHoldEscrow, AlreadyApplied: true, Lock: existing, NewState: existing.CurrentState}
				return coreerr.New(coreerr.IdempotentReplay, "moneystate: HOLD_ESCROW already applied for "+taskID)
			}
		}

		status, err := s.Tasks.GetStatus(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: read task status", err)
		}
		if status != tasklifecycle.StatusAccepted {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: task "+taskID+" is not ACCEPTED")
		}
		if !validation.IsValidID(c.PaymentMethodID) {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: missing or malformed payment method")
		}
		if !validation.IsValidAmountCents(c.AmountCents) {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: escrow amount out of range")
		}

		intent, err := e.gw.CreatePaymentIntent(ctx, c.AmountCents, c.PaymentMethodID, gateway.CaptureManual,
			map[string]string{"task_id": taskID})
		if err != nil {
			return coreerr.Wrap(coreerr.GatewayError, "moneystate: create payment intent", err)
		}
		if _, err := e.gw.ConfirmPaymentIntent(ctx, intent.ID); err != nil {
			// Compensation: cancel the intent we just created.
			if cancelErr := e.gw.CancelPaymentIntent(ctx, intent.ID); cancelErr != nil {
				metrics.GatewayCompensationsTotal.WithLabelValues("failed").Inc()
				e.alerts.Fire(ctx, alerts.TypeCompensationFailed,
					"HOLD_ESCROW: failed to cancel payment intent after confirm failure", map[string]string{"task_id": taskID, "intent_id": intent.ID})
			} else {
				metrics.GatewayCompensationsTotal.WithLabelValues("ok").Inc()
			}
			return coreerr.Wrap(coreerr.GatewayError, "moneystate: confirm payment intent", err)
		}

		fee := applyBps(c.AmountCents, e.platformFeeBps)
		net := c.AmountCents - fee

		lock := &Lock{
			TaskID:                 taskID,
			CurrentState:           StateHeld,
			GatewayPaymentIntentID: intent.ID,
			Version:                1,
		}
		if err := s.Locks.Insert(ctx, lock); err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: insert lock", err)
		}

		hold := &EscrowHold{
			TaskID:            taskID,
			GrossAmount:       c.AmountCents,
			PlatformFeeAmount: fee,
			NetPayoutAmount:   net,
			Currency:          "usd",
			TransferGroup:     "task_" + taskID,
			Status:            StateHeld,
		}
		if err := s.Escrows.InsertHold(ctx, hold); err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: insert escrow hold", err)
		}

		result = Result{TaskID: taskID, Event: EventHoldEscrow, NewState: StateHeld, Lock: lock}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) handleReleasePayout(ctx context.Context, taskID string, c Ctx) (Result, error) {
	var (
		result     Result
		readyToAward bool
		workerID   string
	)
	err := e.backend.WithStores(ctx, func(s Stores) error {
		lock, err := s.Locks.LockForUpdate(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: lock lookup", err)
		}
		if lock == nil {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: no money state lock for "+taskID)
		}
		if !Allowed(lock.CurrentState, EventReleasePayout) {
			if lock.CurrentState == StateReleased {
				result = Result{TaskID: taskID, Event: EventReleasePayout, AlreadyApplied: true, NewState: lock.CurrentState, Lock: lock}
				return coreerr.New(coreerr.IdempotentReplay, "moneystate: RELEASE_PAYOUT already applied for "+taskID)
			}
			return coreerr.New(coreerr.IllegalTransition, "moneystate: RELEASE_PAYOUT not allowed from "+string(lock.CurrentState))
		}

		taskStatus, err := s.Tasks.GetStatus(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: read task status", err)
		}
		if taskStatus != tasklifecycle.StatusCompleted {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: task "+taskID+" has not reached COMPLETED")
		}

		canComplete, err := e.proof.CanComplete(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: check proof gate", err)
		}
		if !canComplete {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: task "+taskID+" has no accepted proof")
		}

		if c.DestinationAccountID == "" {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: missing worker destination account")
		}

		locked, err := e.admin.IsLocked(ctx, c.WorkerID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: check admin lock", err)
		}
		if locked {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: worker "+c.WorkerID+" is administratively locked")
		}

		hold, err := s.Escrows.GetHold(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: read escrow hold", err)
		}
		if hold == nil {
			return coreerr.New(coreerr.Internal, "moneystate: escrow hold missing for held lock "+taskID)
		}

		intent, err := e.gw.CapturePaymentIntent(ctx, lock.GatewayPaymentIntentID)
		if err != nil {
			return coreerr.Wrap(coreerr.GatewayError, "moneystate: capture payment intent", err)
		}

		netAmount := hold.NetPayoutAmount
		instantFee := int64(0)
		payoutType := PayoutStandard
		if c.Instant {
			payoutType = PayoutInstant
			instantFee = applyBps(netAmount, e.instantPayoutFeeBps)
			netAmount -= instantFee
		}

		transfer, err := e.gw.CreateTransfer(ctx, netAmount, c.DestinationAccountID, hold.TransferGroup, intent.LatestChargeID)
		if err != nil {
			// Compensation: refund the captured charge.
			if refundErr := e.gw.RefundCharge(ctx, intent.LatestChargeID); refundErr != nil {
				metrics.GatewayCompensationsTotal.WithLabelValues("failed").Inc()
				e.alerts.Fire(ctx, alerts.TypeCompensationFailed,
					"RELEASE_PAYOUT: failed to refund captured charge after transfer failure",
					map[string]string{"task_id": taskID, "charge_id": intent.LatestChargeID})
			} else {
				metrics.GatewayCompensationsTotal.WithLabelValues("ok").Inc()
			}
			return coreerr.Wrap(coreerr.GatewayError, "moneystate: create transfer", err)
		}

		if err := s.Locks.UpdateState(ctx, taskID, lock.Version, StateReleased, transfer.ID); err != nil {
			return err
		}
		if err := s.Escrows.UpdateHoldStatus(ctx, taskID, StateReleased); err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: update hold status", err)
		}

		payout := &WorkerPayout{
			ID:                idgen.WithPrefix("payout_"),
			EscrowTaskID:      taskID,
			WorkerID:          c.WorkerID,
			GatewayTransferID: transfer.ID,
			GatewayChargeID:   intent.LatestChargeID,
			Type:              payoutType,
			FeeAmount:         hold.PlatformFeeAmount,
			InstantFeeAmount:  instantFee,
			NetAmount:         netAmount,
			Status:            PayoutCompleted,
		}
		if err := s.Payouts.InsertPayout(ctx, payout); err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: insert payout", err)
		}

		readyToAward = true
		workerID = c.WorkerID
		result = Result{TaskID: taskID, Event: EventReleasePayout, NewState: StateReleased, Lock: lock}
		return nil
	})
	if err != nil {
		return result, err
	}

	// Releasing a payout is the only path that awards rewards. The award
	// runs right after the lock-moving transaction commits; the unique
	// constraint on task_id, not transaction scope, is what guarantees
	// at-most-once awarding, so a crash between commit and award is healed
	// by re-running the award, never by double-counting it.
	if readyToAward {
		if _, err := e.reward.AwardForTask(ctx, taskID, workerID); err != nil {
			e.alerts.Fire(ctx, alerts.TypeCompensationFailed, "RELEASE_PAYOUT: reward award failed after release committed",
				map[string]string{"task_id": taskID})
		}
	}
	return result, nil
}

func (e *Engine) handleRefundEscrow(ctx context.Context, taskID string, c Ctx) (Result, error) {
	var (
		result     Result
		markFailed bool
	)
	err := e.backend.WithStores(ctx, func(s Stores) error {
		lock, err := s.Locks.LockForUpdate(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: lock lookup", err)
		}
		if lock == nil {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: no money state lock for "+taskID)
		}
		if lock.CurrentState != StateHeld && lock.CurrentState != StateLockedDispute {
			return coreerr.New(coreerr.IllegalTransition, "moneystate: REFUND_ESCROW not allowed from "+string(lock.CurrentState))
		}
		if !c.CallerIsAdmin && c.CallerID != "" && c.CallerID != c.PosterID {
			return coreerr.New(coreerr.PreconditionFailed, "moneystate: caller is neither poster nor admin")
		}

		claimed, current, err := s.Locks.TryClaimRefund(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: claim refund", err)
		}
		if !claimed {
			result = Result{TaskID: taskID, Event: EventRefundEscrow, AlreadyApplied: true, NewState: current.CurrentState, Lock: current}
			return coreerr.New(coreerr.ConcurrencyConflict, "moneystate: refund already in flight or complete for "+taskID)
		}

		if err := e.gw.CancelPaymentIntent(ctx, lock.GatewayPaymentIntentID); err != nil {
			markFailed = true
			return coreerr.Wrap(coreerr.GatewayError, "moneystate: cancel payment intent", err)
		}

		if err := s.Locks.UpdateState(ctx, taskID, current.Version, StateRefunded, ""); err != nil {
			return err
		}
		if err := s.Locks.SetRefundStatus(ctx, taskID, RefundStatusRefunded); err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: set refund status", err)
		}
		if err := s.Escrows.UpdateHoldStatus(ctx, taskID, StateRefunded); err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: update hold status", err)
		}

		result = Result{TaskID: taskID, Event: EventRefundEscrow, NewState: StateRefunded, Lock: lock}
		return nil
	})
	if markFailed {
		// The failing transaction rolled back, taking the pending claim
		// with it; record the failure in its own unit of work so the
		// operator-visible marker survives.
		_ = e.backend.WithStores(ctx, func(s Stores) error {
			return s.Locks.SetRefundStatus(ctx, taskID, RefundStatusFailed)
		})
	}
	return result, err
}

func (e *Engine) handleForceRefund(ctx context.Context, taskID string, c Ctx) (Result, error) {
	if !c.CallerIsAdmin {
		return Result{}, coreerr.New(coreerr.AuthorityViolation, "moneystate: FORCE_REFUND requires admin caller")
	}

	// Snapshot the destination balance before touching the lock row, in
	// its own unit of work so the record survives a failed reversal.
	// Diagnostic only: a snapshot failure never blocks the refund.
	if c.DestinationAccountID != "" {
		if bal, balErr := e.gw.AccountBalance(ctx, c.DestinationAccountID); balErr == nil {
			_ = e.backend.WithStores(ctx, func(s Stores) error {
				return s.Snapshots.InsertSnapshot(ctx, &BalanceSnapshot{
					ID:        idgen.WithPrefix("snap_"),
					AccountID: c.DestinationAccountID,
					TaskID:    taskID,
					Balance:   bal,
				})
			})
		}
	}

	var (
		result     Result
		markFailed bool
	)
	err := e.backend.WithStores(ctx, func(s Stores) error {
		lock, err := s.Locks.LockForUpdate(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: lock lookup", err)
		}
		if lock == nil || lock.CurrentState != StateReleased {
			return coreerr.New(coreerr.IllegalTransition, "moneystate: FORCE_REFUND only allowed from released")
		}

		payout, err := s.Payouts.GetPayoutByTaskID(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: read payout", err)
		}
		if payout == nil {
			return coreerr.New(coreerr.Internal, "moneystate: no payout recorded for released task "+taskID)
		}

		claimed, current, err := s.Locks.TryClaimRefund(ctx, taskID)
		if err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: claim refund", err)
		}
		if !claimed {
			result = Result{TaskID: taskID, Event: EventForceRefund, AlreadyApplied: true, NewState: current.CurrentState, Lock: current}
			return coreerr.New(coreerr.ConcurrencyConflict, "moneystate: refund already in flight or complete for "+taskID)
		}

		reversalAmount := c.ReversalAmountCents
		if reversalAmount == 0 {
			reversalAmount = payout.NetAmount
		}

		if err := e.gw.CreateTransferReversal(ctx, payout.GatewayTransferID, reversalAmount); err != nil {
			markFailed = true
			if err == gateway.ErrInsufficientFunds {
				if lockErr := e.admin.Lock(ctx, payout.WorkerID, "transfer reversal insufficient funds", "system"); lockErr != nil {
					e.alerts.Fire(ctx, alerts.TypeCompensationFailed, "FORCE_REFUND: failed to lock worker account after insufficient funds",
						map[string]string{"task_id": taskID, "worker_id": payout.WorkerID})
				}
				e.alerts.Fire(ctx, alerts.TypeLedgerDriftDetected, "FORCE_REFUND: transfer reversal failed with insufficient funds",
					map[string]string{"task_id": taskID, "worker_id": payout.WorkerID})
				return coreerr.Wrap(coreerr.NegativeBalance, "moneystate: transfer reversal insufficient funds", err)
			}
			return coreerr.Wrap(coreerr.GatewayError, "moneystate: create transfer reversal", err)
		}

		if err := e.gw.RefundCharge(ctx, payout.GatewayChargeID); err != nil {
			markFailed = true
			e.alerts.Fire(ctx, alerts.TypeCompensationFailed, "FORCE_REFUND: charge refund failed after successful reversal",
				map[string]string{"task_id": taskID})
			return coreerr.Wrap(coreerr.GatewayError, "moneystate: refund charge", err)
		}

		newState := StateRefunded
		if reversalAmount < payout.NetAmount {
			newState = StatePartialRefund
		}
		if err := s.Locks.UpdateState(ctx, taskID, current.Version, newState, ""); err != nil {
			return err
		}
		if err := s.Locks.SetRefundStatus(ctx, taskID, RefundStatusRefunded); err != nil {
			return coreerr.Wrap(coreerr.Internal, "moneystate: set refund status", err)
		}

		result = Result{TaskID: taskID, Event: EventForceRefund, NewState: newState, Lock: lock}
		return nil
	})
	if markFailed {
		_ = e.backend.WithStores(ctx, func(s Stores) error {
			return s.Locks.SetRefundStatus(ctx, taskID, RefundStatusFailed)
		})
	}
	return result, err
}

// applyBps returns amount * bps / 10000, rounded to the nearest cent.
func applyBps(amountCents, bps int64) int64 {
	return (amountCents*bps + 5000) / 10000
}

// FeeSplit returns the platform fee and worker net for a gross amount at
// feeBps. The webhook recovery pipeline uses it to reconstruct the same
// split the engine would have written had the original commit survived.
func FeeSplit(grossCents, feeBps int64) (fee, net int64) {
	fee = applyBps(grossCents, feeBps)
	return fee, grossCents - fee
}
