package reward

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store against xp_ledger, trust_ledger, and
// badge_ledger. Append-only enforcement for these tables is a
// BEFORE UPDATE OR DELETE trigger installed by the migration; this layer
// only needs to translate a unique-violation on insert into
// "already applied."
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertExperience(ctx context.Context, row ExperienceRow) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO xp_ledger (id, user_id, task_id, base_amount, decay_factor, streak_multiplier, final_amount, awarded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, row.ID, row.UserID, row.TaskID, row.BaseAmount, row.DecayFactor, row.StreakMultiplier, row.FinalAmount, row.AwardedAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *PostgresStore) InsertTrust(ctx context.Context, row TrustRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_ledger (id, user_id, old_tier, new_tier, reason, awarded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, row.ID, row.UserID, row.OldTier, row.NewTier, row.Reason, row.AwardedAt)
	return err
}

func (s *PostgresStore) InsertBadge(ctx context.Context, row BadgeRow) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO badge_ledger (id, user_id, badge_id, tier, awarded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, row.ID, row.UserID, row.BadgeID, row.Tier, row.AwardedAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *PostgresStore) HasBadge(ctx context.Context, userID, badgeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM badge_ledger WHERE user_id = $1 AND badge_id = $2)`,
		userID, badgeID,
	).Scan(&exists)
	return exists, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// PostgresUserStats implements UserStatsProvider by querying the ledgers
// directly.
type PostgresUserStats struct {
	db *sql.DB
}

func NewPostgresUserStats(db *sql.DB) *PostgresUserStats {
	return &PostgresUserStats{db: db}
}

func (s *PostgresUserStats) RecentAwardCount(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM xp_ledger WHERE user_id = $1 AND awarded_at > $2`,
		userID, since,
	).Scan(&n)
	return n, err
}

func (s *PostgresUserStats) CurrentStreakDays(ctx context.Context, userID string) (int, error) {
	// Consecutive-day streak ending today, counted from distinct award days.
	var days int
	err := s.db.QueryRowContext(ctx, `
		WITH award_days AS (
			SELECT DISTINCT awarded_at::date AS d FROM xp_ledger WHERE user_id = $1
		),
		numbered AS (
			SELECT d, d - (ROW_NUMBER() OVER (ORDER BY d))::int AS grp FROM award_days
		)
		SELECT COUNT(*) FROM numbered
		WHERE grp = (SELECT grp FROM numbered ORDER BY d DESC LIMIT 1)
	`, userID).Scan(&days)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return days, err
}

func (s *PostgresUserStats) TotalXP(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(final_amount), 0) FROM xp_ledger WHERE user_id = $1`,
		userID,
	).Scan(&total)
	return total, err
}

// PostgresTaskInfo implements TaskInfoProvider by joining tasks with their
// escrow hold's gross amount.
type PostgresTaskInfo struct {
	db *sql.DB
}

func NewPostgresTaskInfo(db *sql.DB) *PostgresTaskInfo {
	return &PostgresTaskInfo{db: db}
}

func (s *PostgresTaskInfo) TaskCategoryAndGross(ctx context.Context, taskID string) (string, int64, error) {
	var category string
	var gross int64
	err := s.db.QueryRowContext(ctx, `
		SELECT t.category, COALESCE(h.gross_amount, 0)
		FROM tasks t LEFT JOIN escrow_holds h ON h.task_id = t.id
		WHERE t.id = $1
	`, taskID).Scan(&category, &gross)
	return category, gross, err
}
