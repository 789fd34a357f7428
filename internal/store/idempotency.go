package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/lib/pq"
)

// EventStore persists Processed Gateway Event rows. Append appends with
// conflict-ignore and reports whether this caller won the insert — the
// single authoritative idempotency check the rest of the system is built
// on. The unique index, not any in-memory bookkeeping, decides the
// concurrent-duplicate race.
type EventStore interface {
	Append(ctx context.Context, eventID, eventType string, payload []byte) (won bool, err error)
	Seen(ctx context.Context, eventID string) (bool, error)
}

// PostgresEventStore implements EventStore against processed_gateway_events.
type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_gateway_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	return exists, err
}

// Append inserts the event row, ignoring a conflict on event_id. won is true
// only for the caller whose insert actually happened.
func (s *PostgresEventStore) Append(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_gateway_events (event_id, event_type, payload, received_at)
		VALUES ($1, $2, COALESCE($3::JSONB, '{}'), NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, payload)
	if err != nil {
		// A concurrent insert can still surface as a raw unique-violation
		// under some isolation levels rather than a silent no-op; treat
		// that as "lost the race," not a failure.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MemoryEventStore is an in-memory EventStore for unit tests.
type MemoryEventStore struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{seen: make(map[string]string)}
}

func (s *MemoryEventStore) Seen(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID]
	return ok, nil
}

func (s *MemoryEventStore) Append(_ context.Context, eventID, eventType string, _ []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[eventID]; ok {
		return false, nil
	}
	s.seen[eventID] = eventType
	return true, nil
}

// Guard is the two-tier Idempotency Guard: a bounded in-process FIFO set
// backs a fast path in front of the authoritative EventStore. It fails
// open on store errors — re-processing an event is always safer than
// silently dropping it, since every downstream operation the guard
// protects is itself idempotent.
type Guard struct {
	mu       sync.Mutex
	order    []string
	index    map[string]struct{}
	capacity int
	events   EventStore
}

// NewGuard creates a Guard backed by events, with an in-process cache
// bounded to capacity entries (oldest evicted first).
func NewGuard(events EventStore, capacity int) *Guard {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Guard{
		index:    make(map[string]struct{}, capacity),
		capacity: capacity,
		events:   events,
	}
}

// Seen reports whether eventID has already been processed. It checks the
// in-process cache first, then falls through to the authoritative store.
func (g *Guard) Seen(ctx context.Context, eventID string) bool {
	g.mu.Lock()
	_, cached := g.index[eventID]
	g.mu.Unlock()
	if cached {
		return true
	}

	seen, err := g.events.Seen(ctx, eventID)
	if err != nil {
		// Fail open: treat as unseen so the caller proceeds and relies on
		// Claim's conflict-ignore insert to catch any real duplicate.
		return false
	}
	if seen {
		g.remember(eventID)
	}
	return seen
}

// Claim attempts to win processing rights for eventID. won is true iff the
// caller should proceed; the authoritative Append call is the only source
// of truth, the in-process cache is advisory only.
func (g *Guard) Claim(ctx context.Context, eventID, eventType string, payload []byte) (won bool, err error) {
	won, err = g.events.Append(ctx, eventID, eventType, payload)
	if err != nil {
		// Fail open: prefer reprocessing over losing the event.
		return true, err
	}
	if won {
		g.remember(eventID)
	}
	return won, nil
}

func (g *Guard) remember(eventID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.index[eventID]; ok {
		return
	}
	if len(g.order) >= g.capacity {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.index, oldest)
	}
	g.order = append(g.order, eventID)
	g.index[eventID] = struct{}{}
}
