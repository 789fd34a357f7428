package moneystate

import (
	"context"

	"github.com/localtask/core/internal/tasklifecycle"
)

// LockStore persists the Money State Lock row. Terminal states are
// immutable apart from FORCE_REFUND's move from released to refunded or
// partial_refund: state-moving updates carry a current_state guard and
// report zero affected rows as a conflict.
type LockStore interface {
	// LockForUpdate runs SELECT ... FOR UPDATE on the Money State Lock row
	// for taskID within the current transaction. Returns nil, nil if no
	// row exists yet.
	LockForUpdate(ctx context.Context, taskID string) (*Lock, error)

	// Insert creates the Money State Lock row (HOLD_ESCROW's first write).
	Insert(ctx context.Context, lock *Lock) error

	// UpdateState moves the lock to newState, bumping version, but only if
	// the row's current_state is not already terminal (released may still
	// move to refunded or partial_refund) and version matches
	// expectedVersion (optimistic concurrency). Returns a coreerr error
	// when the update is refused.
	UpdateState(ctx context.Context, taskID string, expectedVersion int64, newState LockState, transferID string) error

	// TryClaimRefund atomically CASes refund_status from {NULL,failed} to
	// pending. ok is false if the refund is already in flight or done, in
	// which case current carries the lock's present state verbatim.
	TryClaimRefund(ctx context.Context, taskID string) (ok bool, current *Lock, err error)

	// SetRefundStatus records the outcome of a refund attempt (refunded or
	// failed) without otherwise changing current_state.
	SetRefundStatus(ctx context.Context, taskID string, status RefundStatus) error
}

// EscrowStore persists the EscrowHold side table.
type EscrowStore interface {
	InsertHold(ctx context.Context, hold *EscrowHold) error
	GetHold(ctx context.Context, taskID string) (*EscrowHold, error)
	UpdateHoldStatus(ctx context.Context, taskID string, status LockState) error
}

// PayoutStore persists WorkerPayout rows.
type PayoutStore interface {
	InsertPayout(ctx context.Context, payout *WorkerPayout) error
	GetPayoutByTaskID(ctx context.Context, taskID string) (*WorkerPayout, error)
}

// SnapshotStore persists BalanceSnapshot rows. Snapshots are diagnostic
// input for operators investigating a failed reversal; writes are
// best-effort from the engine's point of view.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap *BalanceSnapshot) error
}

// TaskStore is the subset of the external task record the Money State
// Engine needs to read and, in one narrow case (webhook recovery marking
// an OPEN task ACCEPTED), write. Full task lifecycle ownership — the
// feed, eligibility — lives outside this module; this interface is the
// seam, and every write goes through tasklifecycle.AssertTransition.
type TaskStore interface {
	GetStatus(ctx context.Context, taskID string) (tasklifecycle.Status, error)
	SetStatus(ctx context.Context, taskID string, status tasklifecycle.Status) error
}

// ErrConcurrencyConflict-style signaling is done via coreerr.ConcurrencyConflict
// from the engine, not a store-level sentinel, keeping the store interfaces
// storage-shaped rather than error-shaped.
