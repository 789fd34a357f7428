package proof

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store against proof_submissions.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a *Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proof_submissions (id, task_id, user_id, state, quality, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, a.ID, a.TaskID, a.UserID, a.State, a.Quality, a.Note, a.CreatedAt)
	return err
}

func (s *PostgresStore) scan(row *sql.Row) (*Artifact, error) {
	a := &Artifact{}
	var rejectReason sql.NullString
	err := row.Scan(&a.ID, &a.TaskID, &a.UserID, &a.State, &a.Quality, &a.Note,
		&rejectReason, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.RejectReason = rejectReason.String
	return a, nil
}

func (s *PostgresStore) GetByTaskID(ctx context.Context, taskID string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, user_id, state, quality, note, reject_reason, created_at, updated_at
		FROM proof_submissions WHERE task_id = $1
	`, taskID)
	return s.scan(row)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, user_id, state, quality, note, reject_reason, created_at, updated_at
		FROM proof_submissions WHERE id = $1
	`, id)
	return s.scan(row)
}

func (s *PostgresStore) UpdateState(ctx context.Context, id string, from, to State, rejectReason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proof_submissions
		SET state = $1, reject_reason = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $3 AND state = $4
	`, to, rejectReason, id, from)
	return err
}
