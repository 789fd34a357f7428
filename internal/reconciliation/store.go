package reconciliation

import (
	"context"
	"database/sql"

	"github.com/localtask/core/internal/idgen"
)

// PostgresRunStore persists ReconciliationRun rows.
type PostgresRunStore struct {
	db *sql.DB
}

func NewPostgresRunStore(db *sql.DB) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

func (s *PostgresRunStore) InsertRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = idgen.WithPrefix("recon_")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
			(id, started_at, finished_at, healed_locks, mismatches_found, ledger_total_cents, gateway_balance_cents, diff_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.StartedAt, run.FinishedAt, run.HealedLocks, run.MismatchesFound,
		run.LedgerTotal, run.GatewayBalance, run.Diff)
	return err
}

// PostgresLedgerSummer implements LedgerSummer against escrow_holds.
type PostgresLedgerSummer struct {
	db *sql.DB
}

func NewPostgresLedgerSummer(db *sql.DB) *PostgresLedgerSummer {
	return &PostgresLedgerSummer{db: db}
}

func (s *PostgresLedgerSummer) SumHeldEscrow(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(net_payout_amount), 0) FROM escrow_holds WHERE status = 'held'
	`).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
