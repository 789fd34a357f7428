package moneystate

import (
	"context"
	"database/sql"

	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/tasklifecycle"
)

// PostgresLockStore implements LockStore against money_state_lock. Every
// method takes a *sql.Tx (not *sql.DB) because the engine composes every
// money-state mutation inside a single transaction; the store is the only
// authority for the sequencing of internal state transitions.
type PostgresLockStore struct {
	tx *sql.Tx
}

func NewPostgresLockStore(tx *sql.Tx) *PostgresLockStore {
	return &PostgresLockStore{tx: tx}
}

func (s *PostgresLockStore) LockForUpdate(ctx context.Context, taskID string) (*Lock, error) {
	row := s.tx.QueryRowContext(ctx, `
		SELECT task_id, current_state, gateway_payment_intent_id,
		       COALESCE(gateway_transfer_id, ''), COALESCE(refund_status, ''),
		       version, created_at, updated_at
		FROM money_state_lock WHERE task_id = $1 FOR UPDATE
	`, taskID)
	l := &Lock{}
	err := row.Scan(&l.TaskID, &l.CurrentState, &l.GatewayPaymentIntentID,
		&l.GatewayTransferID, &l.RefundStatus, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresLockStore) Insert(ctx context.Context, lock *Lock) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO money_state_lock (task_id, current_state, gateway_payment_intent_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
	`, lock.TaskID, lock.CurrentState, lock.GatewayPaymentIntentID)
	return err
}

func (s *PostgresLockStore) UpdateState(ctx context.Context, taskID string, expectedVersion int64, newState LockState, transferID string) error {
	res, err := s.tx.ExecContext(ctx, `
		UPDATE money_state_lock
		SET current_state = $1, version = version + 1, updated_at = NOW(),
		    gateway_transfer_id = COALESCE(NULLIF($2, ''), gateway_transfer_id)
		WHERE task_id = $3 AND version = $4
		  AND (current_state NOT IN ('released', 'refunded', 'partial_refund')
		       OR (current_state = 'released' AND $1 IN ('refunded', 'partial_refund')))
	`, newState, transferID, taskID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return coreerr.New(coreerr.ConcurrencyConflict,
			"moneystate: terminal mutation blocked or version mismatch for "+taskID)
	}
	return nil
}

func (s *PostgresLockStore) TryClaimRefund(ctx context.Context, taskID string) (bool, *Lock, error) {
	row := s.tx.QueryRowContext(ctx, `
		UPDATE money_state_lock SET refund_status = 'pending', updated_at = NOW()
		WHERE task_id = $1 AND (refund_status IS NULL OR refund_status = 'failed')
		RETURNING task_id, current_state, gateway_payment_intent_id,
		          COALESCE(gateway_transfer_id, ''), refund_status, version, created_at, updated_at
	`, taskID)
	l := &Lock{}
	err := row.Scan(&l.TaskID, &l.CurrentState, &l.GatewayPaymentIntentID,
		&l.GatewayTransferID, &l.RefundStatus, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		// Zero affected rows: refund already in flight or done. Fetch the
		// current row verbatim so the caller can report its actual status.
		current, getErr := s.LockForUpdate(ctx, taskID)
		if getErr != nil {
			return false, nil, getErr
		}
		return false, current, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, l, nil
}

func (s *PostgresLockStore) SetRefundStatus(ctx context.Context, taskID string, status RefundStatus) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE money_state_lock SET refund_status = $1, updated_at = NOW() WHERE task_id = $2
	`, status, taskID)
	return err
}

// PostgresEscrowStore implements EscrowStore against escrow_holds.
type PostgresEscrowStore struct {
	tx *sql.Tx
}

func NewPostgresEscrowStore(tx *sql.Tx) *PostgresEscrowStore {
	return &PostgresEscrowStore{tx: tx}
}

func (s *PostgresEscrowStore) InsertHold(ctx context.Context, hold *EscrowHold) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO escrow_holds (task_id, gross_amount, platform_fee_amount, net_payout_amount,
		                          currency, transfer_group, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, hold.TaskID, hold.GrossAmount, hold.PlatformFeeAmount, hold.NetPayoutAmount,
		hold.Currency, hold.TransferGroup, hold.Status)
	return err
}

func (s *PostgresEscrowStore) GetHold(ctx context.Context, taskID string) (*EscrowHold, error) {
	row := s.tx.QueryRowContext(ctx, `
		SELECT task_id, gross_amount, platform_fee_amount, net_payout_amount, currency,
		       transfer_group, status, COALESCE(refund_status, ''), created_at, updated_at
		FROM escrow_holds WHERE task_id = $1
	`, taskID)
	h := &EscrowHold{}
	err := row.Scan(&h.TaskID, &h.GrossAmount, &h.PlatformFeeAmount, &h.NetPayoutAmount,
		&h.Currency, &h.TransferGroup, &h.Status, &h.RefundStatus, &h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return h, err
}

func (s *PostgresEscrowStore) UpdateHoldStatus(ctx context.Context, taskID string, status LockState) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE escrow_holds SET status = $1, updated_at = NOW() WHERE task_id = $2
	`, status, taskID)
	return err
}

// PostgresPayoutStore implements PayoutStore against hustler_payouts. The
// table keeps its historical name; the in-process record is WorkerPayout
// and every caller-facing field says worker, not hustler.
type PostgresPayoutStore struct {
	tx *sql.Tx
}

func NewPostgresPayoutStore(tx *sql.Tx) *PostgresPayoutStore {
	return &PostgresPayoutStore{tx: tx}
}

func (s *PostgresPayoutStore) InsertPayout(ctx context.Context, p *WorkerPayout) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO hustler_payouts (id, escrow_id, worker_id, gateway_transfer_id, gateway_charge_id,
		                             type, fee_amount, instant_fee_amount, net_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, p.ID, p.EscrowTaskID, p.WorkerID, p.GatewayTransferID, p.GatewayChargeID,
		p.Type, p.FeeAmount, p.InstantFeeAmount, p.NetAmount, p.Status)
	return err
}

func (s *PostgresPayoutStore) GetPayoutByTaskID(ctx context.Context, taskID string) (*WorkerPayout, error) {
	row := s.tx.QueryRowContext(ctx, `
		SELECT id, escrow_id, worker_id, gateway_transfer_id, gateway_charge_id,
		       type, fee_amount, instant_fee_amount, net_amount, status, created_at, updated_at
		FROM hustler_payouts WHERE escrow_id = $1
	`, taskID)
	p := &WorkerPayout{}
	err := row.Scan(&p.ID, &p.EscrowTaskID, &p.WorkerID, &p.GatewayTransferID, &p.GatewayChargeID,
		&p.Type, &p.FeeAmount, &p.InstantFeeAmount, &p.NetAmount, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// PostgresSnapshotStore implements SnapshotStore against balance_snapshots.
type PostgresSnapshotStore struct {
	tx *sql.Tx
}

func NewPostgresSnapshotStore(tx *sql.Tx) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{tx: tx}
}

func (s *PostgresSnapshotStore) InsertSnapshot(ctx context.Context, snap *BalanceSnapshot) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO balance_snapshots (id, account_id, task_id, balance, taken_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NOW())
	`, snap.ID, snap.AccountID, snap.TaskID, snap.Balance)
	return err
}

// PostgresTaskStore implements TaskStore against tasks.
type PostgresTaskStore struct {
	tx *sql.Tx
}

func NewPostgresTaskStore(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{tx: tx}
}

func (s *PostgresTaskStore) GetStatus(ctx context.Context, taskID string) (tasklifecycle.Status, error) {
	var status string
	err := s.tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, taskID).Scan(&status)
	if err != nil {
		return "", err
	}
	return tasklifecycle.Status(status), nil
}

func (s *PostgresTaskStore) SetStatus(ctx context.Context, taskID string, status tasklifecycle.Status) error {
	var current string
	if err := s.tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, taskID).Scan(&current); err != nil {
		return err
	}
	if err := tasklifecycle.AssertTransition(tasklifecycle.Status(current), status); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `UPDATE tasks SET status = $1 WHERE id = $2`, status, taskID)
	return err
}
