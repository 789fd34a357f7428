package moneystate

import (
	"context"
	"database/sql"

	"github.com/localtask/core/internal/store"
)

// Stores bundles the table-specific stores a single handle() call needs,
// all scoped to the same transaction (or, for Memory, the same per-task
// lock already held by the caller).
type Stores struct {
	Locks     LockStore
	Escrows   EscrowStore
	Payouts   PayoutStore
	Tasks     TaskStore
	Snapshots SnapshotStore
}

// Backend supplies a Stores bundle scoped to one atomic unit of work.
type Backend interface {
	WithStores(ctx context.Context, fn func(Stores) error) error
}

// MemoryBackend wires the in-memory stores directly; it is not
// transactional since the in-memory stores have no isolation to violate —
// correctness here relies on the Engine's own per-task in-process lock.
type MemoryBackend struct {
	Locks     *MemoryLockStore
	Escrows   *MemoryEscrowStore
	Payouts   *MemoryPayoutStore
	Tasks     *MemoryTaskStore
	Snapshots *MemorySnapshotStore
}

// NewMemoryBackend creates a MemoryBackend with fresh empty stores.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		Locks:     NewMemoryLockStore(),
		Escrows:   NewMemoryEscrowStore(),
		Payouts:   NewMemoryPayoutStore(),
		Tasks:     NewMemoryTaskStore(),
		Snapshots: NewMemorySnapshotStore(),
	}
}

func (b *MemoryBackend) WithStores(_ context.Context, fn func(Stores) error) error {
	return fn(Stores{Locks: b.Locks, Escrows: b.Escrows, Payouts: b.Payouts, Tasks: b.Tasks, Snapshots: b.Snapshots})
}

// PostgresBackend runs each call inside a real transaction via
// store.DB.WithTx.
type PostgresBackend struct {
	db *store.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: store.New(db)}
}

func (b *PostgresBackend) WithStores(ctx context.Context, fn func(Stores) error) error {
	return b.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(Stores{
			Locks:     NewPostgresLockStore(tx),
			Escrows:   NewPostgresEscrowStore(tx),
			Payouts:   NewPostgresPayoutStore(tx),
			Tasks:     NewPostgresTaskStore(tx),
			Snapshots: NewPostgresSnapshotStore(tx),
		})
	})
}
