package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// Job is one row of durable background work.
type Job struct {
	ID        int64
	JobType   string
	Payload   []byte
	RunAfter  time.Time
	Attempts  int
	LastError string
}

// JobQueueStore persists background jobs (webhook recovery retries).
// Claimed rows are deleted on success; failures are rescheduled with a
// bumped attempt count.
type JobQueueStore interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, runAfter time.Time) error
	// DequeueDue returns up to limit jobs whose run_after has passed,
	// oldest first.
	DequeueDue(ctx context.Context, limit int) ([]Job, error)
	Delete(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64, lastError string, nextRun time.Time) error
}

// PostgresJobQueueStore implements JobQueueStore against job_queue.
type PostgresJobQueueStore struct {
	db *sql.DB
}

func NewPostgresJobQueueStore(db *sql.DB) *PostgresJobQueueStore {
	return &PostgresJobQueueStore{db: db}
}

func (s *PostgresJobQueueStore) Enqueue(ctx context.Context, jobType string, payload []byte, runAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_queue (job_type, payload, run_after)
		VALUES ($1, COALESCE($2::JSONB, '{}'), $3)
	`, jobType, payload, runAfter)
	return err
}

func (s *PostgresJobQueueStore) DequeueDue(ctx context.Context, limit int) ([]Job, error) {
	// SKIP LOCKED skips rows another statement is reading at the same
	// moment. The query runs outside a transaction, so its row locks end
	// with the statement: once DequeueDue returns, another worker can
	// select the same job until it is deleted or rescheduled.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_type, payload, run_after, attempts, COALESCE(last_error, '')
		FROM job_queue
		WHERE run_after <= NOW()
		ORDER BY run_after
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.JobType, &j.Payload, &j.RunAfter, &j.Attempts, &j.LastError); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresJobQueueStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_queue WHERE id = $1`, id)
	return err
}

func (s *PostgresJobQueueStore) RecordFailure(ctx context.Context, id int64, lastError string, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET attempts = attempts + 1, last_error = $1, run_after = $2 WHERE id = $3
	`, lastError, nextRun, id)
	return err
}

// MemoryJobQueueStore is an in-memory JobQueueStore for tests.
type MemoryJobQueueStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*Job
}

func NewMemoryJobQueueStore() *MemoryJobQueueStore {
	return &MemoryJobQueueStore{jobs: make(map[int64]*Job)}
}

func (s *MemoryJobQueueStore) Enqueue(_ context.Context, jobType string, payload []byte, runAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.jobs[s.nextID] = &Job{ID: s.nextID, JobType: jobType, Payload: payload, RunAfter: runAfter}
	return nil
}

func (s *MemoryJobQueueStore) DequeueDue(_ context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []Job
	for _, j := range s.jobs {
		if !j.RunAfter.After(now) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].RunAfter.Equal(out[b].RunAfter) {
			return out[a].ID < out[b].ID
		}
		return out[a].RunAfter.Before(out[b].RunAfter)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryJobQueueStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobQueueStore) RecordFailure(_ context.Context, id int64, lastError string, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Attempts++
		j.LastError = lastError
		j.RunAfter = nextRun
	}
	return nil
}

// Len reports the number of queued jobs (for tests).
func (s *MemoryJobQueueStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// MakeAllDue rewinds every job's run_after to now (for tests).
func (s *MemoryJobQueueStore) MakeAllDue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, j := range s.jobs {
		j.RunAfter = now
	}
}
