package wallet

import (
	"context"
	"sort"
	"sync"

	"github.com/localtask/core/internal/pagination"
)

// MemoryStore is an in-memory Store for unit tests. Tests seed it with the
// derived values directly; it does not recompute them from ledgers.
type MemoryStore struct {
	mu        sync.Mutex
	summaries map[string]Summary
	profiles  map[string]profileStats
	payouts   map[string][]PayoutEntry
}

type profileStats struct {
	totalXP int64
	streak  int
	badges  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[string]Summary),
		profiles:  make(map[string]profileStats),
		payouts:   make(map[string][]PayoutEntry),
	}
}

func (s *MemoryStore) SeedSummary(sum Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.UserID] = sum
}

func (s *MemoryStore) SeedProfile(userID string, totalXP int64, streak int, badges []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = profileStats{totalXP: totalXP, streak: streak, badges: badges}
}

func (s *MemoryStore) SeedPayout(userID string, e PayoutEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts[userID] = append(s.payouts[userID], e)
}

func (s *MemoryStore) WalletSummary(_ context.Context, userID string) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[userID]
	if !ok {
		return &Summary{UserID: userID}, nil
	}
	return &sum, nil
}

func (s *MemoryStore) ProfileStats(_ context.Context, userID string) (int64, int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	return p.totalXP, p.streak, p.badges, nil
}

func (s *MemoryStore) PayoutHistory(_ context.Context, userID string, before *pagination.Cursor, limit int) ([]PayoutEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]PayoutEntry, len(s.payouts[userID]))
	copy(entries, s.payouts[userID])
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	var out []PayoutEntry
	for _, e := range entries {
		if before != nil {
			if !e.CreatedAt.Before(before.CreatedAt) && !(e.CreatedAt.Equal(before.CreatedAt) && e.ID < before.ID) {
				continue
			}
		}
		out = append(out, e)
		if len(out) == limit+1 {
			break
		}
	}
	return out, nil
}
