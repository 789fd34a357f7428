package wallet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/localtask/core/internal/pagination"
)

// PostgresStore implements Store over the authoritative tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WalletSummary(ctx context.Context, userID string) (*Summary, error) {
	sum := &Summary{UserID: userID}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(net_amount), 0), COUNT(*), COALESCE(SUM(instant_fee_amount), 0)
		FROM hustler_payouts WHERE worker_id = $1 AND status = 'completed'
	`, userID).Scan(&sum.TotalEarnedCents, &sum.PayoutCount, &sum.InstantFeesCents)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(h.net_payout_amount), 0)
		FROM escrow_holds h
		JOIN tasks t ON t.id = h.task_id
		WHERE t.assigned_worker_id = $1 AND h.status = 'held'
	`, userID).Scan(&sum.PendingCents)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.net_amount), 0)
		FROM hustler_payouts p
		JOIN money_state_lock l ON l.task_id = p.escrow_id
		WHERE p.worker_id = $1 AND l.current_state IN ('refunded', 'partial_refund')
	`, userID).Scan(&sum.ReversedCents)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *PostgresStore) ProfileStats(ctx context.Context, userID string) (int64, int, []string, error) {
	var totalXP int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(final_amount), 0) FROM xp_ledger WHERE user_id = $1`, userID,
	).Scan(&totalXP); err != nil {
		return 0, 0, nil, err
	}

	var streak int
	err := s.db.QueryRowContext(ctx, `
		WITH award_days AS (
			SELECT DISTINCT awarded_at::date AS d FROM xp_ledger WHERE user_id = $1
		),
		numbered AS (
			SELECT d, d - (ROW_NUMBER() OVER (ORDER BY d))::int AS grp FROM award_days
		)
		SELECT COUNT(*) FROM numbered
		WHERE grp = (SELECT grp FROM numbered ORDER BY d DESC LIMIT 1)
	`, userID).Scan(&streak)
	if err != nil && err != sql.ErrNoRows {
		return 0, 0, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT badge_id FROM badge_ledger WHERE user_id = $1 ORDER BY awarded_at`, userID)
	if err != nil {
		return 0, 0, nil, err
	}
	defer func() { _ = rows.Close() }()

	var badges []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return 0, 0, nil, err
		}
		badges = append(badges, b)
	}
	return totalXP, streak, badges, rows.Err()
}

func (s *PostgresStore) PayoutHistory(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]PayoutEntry, error) {
	query := `
		SELECT id, escrow_id, net_amount, type, status, created_at
		FROM hustler_payouts
		WHERE worker_id = $1`
	args := []any{userID}
	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PayoutEntry
	for rows.Next() {
		var e PayoutEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.NetCents, &e.Type, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
