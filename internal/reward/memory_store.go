package reward

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for unit tests.
type MemoryStore struct {
	mu         sync.Mutex
	experience map[string]ExperienceRow // keyed by task_id, one award per task
	trust      []TrustRow
	badges     map[string]map[string]BadgeRow // userID -> badgeID -> row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experience: make(map[string]ExperienceRow),
		badges:     make(map[string]map[string]BadgeRow),
	}
}

func (s *MemoryStore) InsertExperience(_ context.Context, row ExperienceRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experience[row.TaskID]; exists {
		return false, nil
	}
	s.experience[row.TaskID] = row
	return true, nil
}

func (s *MemoryStore) InsertTrust(_ context.Context, row TrustRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trust = append(s.trust, row)
	return nil
}

func (s *MemoryStore) InsertBadge(_ context.Context, row BadgeRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.badges[row.UserID]; !ok {
		s.badges[row.UserID] = make(map[string]BadgeRow)
	}
	if _, exists := s.badges[row.UserID][row.BadgeID]; exists {
		return false, nil
	}
	s.badges[row.UserID][row.BadgeID] = row
	return true, nil
}

func (s *MemoryStore) HasBadge(_ context.Context, userID, badgeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.badges[userID][badgeID]
	return ok, nil
}

// ExperienceByTask returns the experience row for taskID, if any (for tests).
func (s *MemoryStore) ExperienceByTask(taskID string) (ExperienceRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.experience[taskID]
	return row, ok
}

// TrustRows returns all recorded trust-tier changes (for tests).
func (s *MemoryStore) TrustRows() []TrustRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrustRow, len(s.trust))
	copy(out, s.trust)
	return out
}

// MemoryUserStats is an in-memory UserStatsProvider for unit tests.
// Callers seed awards, streaks, and totals directly; AwardForTask never
// writes to it.
type MemoryUserStats struct {
	mu      sync.Mutex
	awards  map[string][]time.Time
	streaks map[string]int
	totals  map[string]int64
}

func NewMemoryUserStats() *MemoryUserStats {
	return &MemoryUserStats{
		awards:  make(map[string][]time.Time),
		streaks: make(map[string]int),
		totals:  make(map[string]int64),
	}
}

func (s *MemoryUserStats) SeedStreak(userID string, days int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaks[userID] = days
}

func (s *MemoryUserStats) SeedTotal(userID string, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[userID] = total
}

func (s *MemoryUserStats) RecordAward(userID string, at time.Time, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awards[userID] = append(s.awards[userID], at)
	s.totals[userID] += amount
}

func (s *MemoryUserStats) RecentAwardCount(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.awards[userID] {
		if t.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryUserStats) CurrentStreakDays(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaks[userID], nil
}

func (s *MemoryUserStats) TotalXP(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[userID], nil
}

// MemoryTaskInfo is an in-memory TaskInfoProvider for unit tests.
type MemoryTaskInfo struct {
	mu    sync.Mutex
	tasks map[string]struct {
		category string
		gross    int64
	}
}

func NewMemoryTaskInfo() *MemoryTaskInfo {
	return &MemoryTaskInfo{tasks: make(map[string]struct {
		category string
		gross    int64
	})}
}

func (s *MemoryTaskInfo) Seed(taskID, category string, grossCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID] = struct {
		category string
		gross    int64
	}{category, grossCents}
}

func (s *MemoryTaskInfo) TaskCategoryAndGross(_ context.Context, taskID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[taskID]
	return t.category, t.gross, nil
}
