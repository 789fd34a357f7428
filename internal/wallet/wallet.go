// Package wallet exposes the read-only profile and wallet summaries the
// core offers external collaborators. Every value here is derived from the
// durable ledgers; nothing in this package mutates state, and nothing here
// is authoritative over the money state machine.
package wallet

import (
	"context"
	"time"

	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/pagination"
	"github.com/localtask/core/internal/reward"
)

// Summary is a user's wallet view: what they have earned, what is pending,
// and what has been clawed back, all in minor units.
type Summary struct {
	UserID            string
	TotalEarnedCents  int64 // sum of completed payout nets
	PendingCents      int64 // held escrow net amounts where the user is the worker
	ReversedCents     int64 // payout nets of tasks whose lock is refunded or partial_refund (the full net, also for a partial reversal)
	PayoutCount       int
	InstantFeesCents  int64 // lifetime instant-payout fees the user chose to pay
}

// Profile is a user's trust-and-progress view derived from the reward
// ledgers.
type Profile struct {
	UserID     string
	TotalXP    int64
	Level      int
	Tier       reward.Tier
	StreakDays int
	Badges     []string
}

// PayoutEntry is one row of a user's payout history.
type PayoutEntry struct {
	ID        string
	TaskID    string
	NetCents  int64
	Type      string
	Status    string
	CreatedAt time.Time
}

// PayoutPage is a cursor-paginated slice of payout history.
type PayoutPage struct {
	Entries    []PayoutEntry
	NextCursor string
	HasMore    bool
}

// Store is the read surface the summaries are computed from.
type Store interface {
	WalletSummary(ctx context.Context, userID string) (*Summary, error)
	ProfileStats(ctx context.Context, userID string) (totalXP int64, streakDays int, badges []string, err error)
	// PayoutHistory returns up to limit+1 entries created strictly before
	// the cursor position (or the newest entries when cursor is nil),
	// newest first. The extra row lets the caller detect another page.
	PayoutHistory(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]PayoutEntry, error)
}

// Service answers read-only wallet and profile queries.
type Service struct {
	store Store
}

// New creates a Service over store.
func New(store Store) *Service {
	return &Service{store: store}
}

// Wallet returns userID's wallet summary.
func (s *Service) Wallet(ctx context.Context, userID string) (*Summary, error) {
	sum, err := s.store.WalletSummary(ctx, userID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, "wallet: summary query", err)
	}
	return sum, nil
}

// Profile returns userID's trust-and-progress profile.
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	totalXP, streak, badges, err := s.store.ProfileStats(ctx, userID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, "wallet: profile query", err)
	}
	return &Profile{
		UserID:     userID,
		TotalXP:    totalXP,
		Level:      reward.Level(totalXP),
		Tier:       reward.TierForTotal(totalXP),
		StreakDays: streak,
		Badges:     badges,
	}, nil
}

// DefaultPageSize bounds payout-history pages when the caller passes 0.
const DefaultPageSize = 20

// MaxPageSize bounds payout-history pages regardless of what the caller asks for.
const MaxPageSize = 100

// Payouts returns one page of userID's payout history, newest first.
func (s *Service) Payouts(ctx context.Context, userID, cursor string, limit int) (*PayoutPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.PreconditionFailed, "wallet: bad cursor", err)
	}

	rows, err := s.store.PayoutHistory(ctx, userID, before, limit)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, "wallet: payout history query", err)
	}

	entries, next, more := pagination.ComputePage(rows, limit, func(e PayoutEntry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return &PayoutPage{Entries: entries, NextCursor: next, HasMore: more}, nil
}
