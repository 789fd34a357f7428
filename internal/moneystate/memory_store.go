package moneystate

import (
	"context"
	"sync"

	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/tasklifecycle"
)

// MemoryLockStore is an in-memory LockStore for unit tests. It is not
// transactional: callers are expected to hold the per-task lock the Engine
// already takes, so each key sees single-flight access.
type MemoryLockStore struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{locks: make(map[string]*Lock)}
}

func (s *MemoryLockStore) LockForUpdate(_ context.Context, taskID string) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryLockStore) Insert(_ context.Context, lock *Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[lock.TaskID]; ok {
		return coreerr.New(coreerr.ConcurrencyConflict, "moneystate: lock already exists for "+lock.TaskID)
	}
	cp := *lock
	s.locks[lock.TaskID] = &cp
	return nil
}

func (s *MemoryLockStore) UpdateState(_ context.Context, taskID string, expectedVersion int64, newState LockState, transferID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		return coreerr.New(coreerr.Internal, "moneystate: no lock row for "+taskID)
	}
	// FORCE_REFUND is the one move out of a terminal state.
	forceRefund := l.CurrentState == StateReleased && (newState == StateRefunded || newState == StatePartialRefund)
	if l.CurrentState.IsTerminal() && !forceRefund {
		return coreerr.New(coreerr.Internal, "moneystate: terminal mutation blocked for "+taskID)
	}
	if l.Version != expectedVersion {
		return coreerr.New(coreerr.ConcurrencyConflict, "moneystate: version mismatch for "+taskID)
	}
	l.CurrentState = newState
	l.Version++
	if transferID != "" {
		l.GatewayTransferID = transferID
	}
	return nil
}

func (s *MemoryLockStore) TryClaimRefund(_ context.Context, taskID string) (bool, *Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		return false, nil, coreerr.New(coreerr.Internal, "moneystate: no lock row for "+taskID)
	}
	if l.RefundStatus != RefundStatusNone && l.RefundStatus != RefundStatusFailed {
		cp := *l
		return false, &cp, nil
	}
	l.RefundStatus = RefundStatusPending
	cp := *l
	return true, &cp, nil
}

func (s *MemoryLockStore) SetRefundStatus(_ context.Context, taskID string, status RefundStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		return coreerr.New(coreerr.Internal, "moneystate: no lock row for "+taskID)
	}
	l.RefundStatus = status
	return nil
}

// MemoryEscrowStore is an in-memory EscrowStore.
type MemoryEscrowStore struct {
	mu    sync.Mutex
	holds map[string]*EscrowHold
}

func NewMemoryEscrowStore() *MemoryEscrowStore {
	return &MemoryEscrowStore{holds: make(map[string]*EscrowHold)}
}

func (s *MemoryEscrowStore) InsertHold(_ context.Context, hold *EscrowHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *hold
	s.holds[hold.TaskID] = &cp
	return nil
}

func (s *MemoryEscrowStore) GetHold(_ context.Context, taskID string) (*EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[taskID]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryEscrowStore) UpdateHoldStatus(_ context.Context, taskID string, status LockState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[taskID]
	if !ok {
		return coreerr.New(coreerr.Internal, "moneystate: no escrow hold for "+taskID)
	}
	h.Status = status
	return nil
}

// MemoryPayoutStore is an in-memory PayoutStore.
type MemoryPayoutStore struct {
	mu      sync.Mutex
	payouts map[string]*WorkerPayout
}

func NewMemoryPayoutStore() *MemoryPayoutStore {
	return &MemoryPayoutStore{payouts: make(map[string]*WorkerPayout)}
}

func (s *MemoryPayoutStore) InsertPayout(_ context.Context, payout *WorkerPayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *payout
	s.payouts[payout.EscrowTaskID] = &cp
	return nil
}

func (s *MemoryPayoutStore) GetPayoutByTaskID(_ context.Context, taskID string) (*WorkerPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[taskID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// MemorySnapshotStore is an in-memory SnapshotStore.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	snaps []BalanceSnapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) InsertSnapshot(_ context.Context, snap *BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, *snap)
	return nil
}

// Snapshots returns all recorded snapshots (for tests).
func (s *MemorySnapshotStore) Snapshots() []BalanceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BalanceSnapshot, len(s.snaps))
	copy(out, s.snaps)
	return out
}

// MemoryTaskStore is an in-memory TaskStore.
type MemoryTaskStore struct {
	mu   sync.Mutex
	tasks map[string]tasklifecycle.Status
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]tasklifecycle.Status)}
}

// Seed sets a task's status directly, bypassing transition checks, for test
// setup.
func (s *MemoryTaskStore) Seed(taskID string, status tasklifecycle.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID] = status
}

func (s *MemoryTaskStore) GetStatus(_ context.Context, taskID string) (tasklifecycle.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[taskID]
	if !ok {
		return tasklifecycle.StatusOpen, nil
	}
	return st, nil
}

func (s *MemoryTaskStore) SetStatus(_ context.Context, taskID string, status tasklifecycle.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.tasks[taskID]
	if from == "" {
		from = tasklifecycle.StatusOpen
	}
	if err := tasklifecycle.AssertTransition(from, status); err != nil {
		return err
	}
	s.tasks[taskID] = status
	return nil
}
