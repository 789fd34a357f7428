// Package reward implements append-only, idempotent awarding of experience
// points, trust-tier upgrades, and badges, gated on monetary finalization.
// Nothing in this package is ever decremented: reversals and admin actions
// leave awarded rows untouched.
package reward

import (
	"context"
	"math"
	"time"

	"github.com/localtask/core/internal/coreerr"
	"github.com/localtask/core/internal/idgen"
	"github.com/localtask/core/internal/metrics"
)

// PriceTier buckets a task's price for the base-amount lookup.
type PriceTier string

const (
	PriceTierLow    PriceTier = "low"    // < $25
	PriceTierMedium PriceTier = "medium" // $25-$100
	PriceTierHigh   PriceTier = "high"   // > $100
)

// PriceTierForAmount buckets a gross amount (cents) into a PriceTier.
func PriceTierForAmount(grossCents int64) PriceTier {
	switch {
	case grossCents > 10000:
		return PriceTierHigh
	case grossCents >= 2500:
		return PriceTierMedium
	default:
		return PriceTierLow
	}
}

// baseAmounts is the deterministic (category, priceTier) -> base XP table.
// Categories not listed fall back to "general".
var baseAmounts = map[string]map[PriceTier]int64{
	"general": {
		PriceTierLow:    10,
		PriceTierMedium: 25,
		PriceTierHigh:   60,
	},
	"delivery": {
		PriceTierLow:    8,
		PriceTierMedium: 20,
		PriceTierHigh:   45,
	},
	"skilled_labor": {
		PriceTierLow:    15,
		PriceTierMedium: 35,
		PriceTierHigh:   80,
	},
}

// BaseAmount returns the base XP award for a (category, priceTier) pair.
func BaseAmount(category string, tier PriceTier) int64 {
	table, ok := baseAmounts[category]
	if !ok {
		table = baseAmounts["general"]
	}
	amt, ok := table[tier]
	if !ok {
		amt = baseAmounts["general"][tier]
	}
	return amt
}

// DecayWindow is the lookback window anti-grind velocity is measured over.
const DecayWindow = 24 * time.Hour

// MinDecayFactor and MaxDecayFactor bound the anti-grind multiplier.
const (
	MinDecayFactor = 0.2
	MaxDecayFactor = 1.0
)

// DecayFactor computes the anti-grind multiplier in [0.2, 1.0] from the
// count of a user's awards within DecayWindow. It decreases logarithmically
// as recent velocity increases: 0 recent awards -> 1.0, decaying toward the
// floor as recentCount grows.
func DecayFactor(recentCount int) float64 {
	if recentCount <= 0 {
		return MaxDecayFactor
	}
	factor := MaxDecayFactor - 0.25*math.Log10(float64(recentCount)+1)
	return clamp(factor, MinDecayFactor, MaxDecayFactor)
}

// MinStreakMultiplier and MaxStreakMultiplier bound the streak bonus.
const (
	MinStreakMultiplier = 1.0
	MaxStreakMultiplier = 2.0
)

// StreakMultiplier computes the consecutive-active-day streak bonus in
// [1.0, 2.0], logarithmic in streakDays so early days matter most and the
// bonus saturates rather than growing unbounded.
func StreakMultiplier(streakDays int) float64 {
	if streakDays <= 0 {
		return MinStreakMultiplier
	}
	mult := MinStreakMultiplier + 0.3*math.Log10(float64(streakDays)+1)
	return clamp(mult, MinStreakMultiplier, MaxStreakMultiplier)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// FinalAmount rounds baseAmount x decayFactor x streakMultiplier to the
// nearest whole XP point.
func FinalAmount(baseAmount int64, decayFactor, streakMultiplier float64) int64 {
	return int64(math.Round(float64(baseAmount) * decayFactor * streakMultiplier))
}

// Tier is a trust tier, ordered 1..5
// (new/emerging/established/trusted/elite). Tier changes are monotone:
// nothing in this module ever lowers one.
type Tier int

const (
	TierNew         Tier = 1
	TierEmerging    Tier = 2
	TierEstablished Tier = 3
	TierTrusted     Tier = 4
	TierElite       Tier = 5
)

// levelThresholds maps cumulative XP total to the trust tier it unlocks.
var levelThresholds = []struct {
	total int64
	tier  Tier
}{
	{0, TierNew},
	{200, TierEmerging},
	{800, TierEstablished},
	{2500, TierTrusted},
	{8000, TierElite},
}

// TierForTotal computes the trust tier implied by a cumulative XP total.
// Monotone: higher totals never produce a lower tier.
func TierForTotal(total int64) Tier {
	tier := TierNew
	for _, t := range levelThresholds {
		if total >= t.total {
			tier = t.tier
		}
	}
	return tier
}

// Level is a user's level derived from cumulative XP, a coarser-grained
// progression display than Tier.
func Level(total int64) int {
	switch {
	case total <= 0:
		return 1
	default:
		return int(math.Floor(math.Log2(float64(total)/50+1))) + 1
	}
}

// Badge is a static catalog entry for a badge award rule.
type Badge struct {
	ID          string
	MinTier     Tier
	MinStreak   int
	Description string
}

// Catalog is the static badge rule table. Evaluation runs last and may
// append zero or more BadgeLedger rows; it never removes one.
var Catalog = []Badge{
	{ID: "first_task", MinTier: TierNew, MinStreak: 0, Description: "Completed your first task"},
	{ID: "established_worker", MinTier: TierEstablished, MinStreak: 0, Description: "Reached the established trust tier"},
	{ID: "week_streak", MinTier: TierNew, MinStreak: 7, Description: "Seven consecutive active days"},
	{ID: "elite_worker", MinTier: TierElite, MinStreak: 0, Description: "Reached the elite trust tier"},
}

// EligibleBadges returns every Catalog entry a user qualifies for given
// their current tier and streak. The caller (Ledger.awardBadges) is
// responsible for filtering out badges already awarded (append-only,
// at-most-one-per-(user,badge) is enforced by the store).
func EligibleBadges(tier Tier, streakDays int) []Badge {
	var out []Badge
	for _, b := range Catalog {
		if tier >= b.MinTier && streakDays >= b.MinStreak {
			out = append(out, b)
		}
	}
	return out
}

// ExperienceRow is one append-only Experience Ledger row.
type ExperienceRow struct {
	ID               string
	UserID           string
	TaskID           string
	BaseAmount       int64
	DecayFactor      float64
	StreakMultiplier float64
	FinalAmount      int64
	AwardedAt        time.Time
}

// TrustRow is one append-only Trust Ledger row.
type TrustRow struct {
	ID        string
	UserID    string
	OldTier   Tier
	NewTier   Tier
	Reason    string
	AwardedAt time.Time
}

// BadgeRow is one append-only Badge Ledger row.
type BadgeRow struct {
	ID        string
	UserID    string
	BadgeID   string
	Tier      Tier
	AwardedAt time.Time
}

// UserStatsProvider supplies the inputs DecayFactor/StreakMultiplier/
// TierForTotal need about a user: how many awards they've received
// recently, their current streak, and their cumulative XP total so far
// (before this award).
type UserStatsProvider interface {
	RecentAwardCount(ctx context.Context, userID string, since time.Time) (int, error)
	CurrentStreakDays(ctx context.Context, userID string) (int, error)
	TotalXP(ctx context.Context, userID string) (int64, error)
}

// TaskInfoProvider supplies the category/price needed to compute
// BaseAmount. This is an advisory read from the task feed; eligibility is
// enforced in the feed's own query, never here.
type TaskInfoProvider interface {
	TaskCategoryAndGross(ctx context.Context, taskID string) (category string, grossCents int64, err error)
}

// Store persists the three append-only ledgers.
type Store interface {
	InsertExperience(ctx context.Context, row ExperienceRow) (inserted bool, err error)
	InsertTrust(ctx context.Context, row TrustRow) error
	InsertBadge(ctx context.Context, row BadgeRow) (inserted bool, err error)
	HasBadge(ctx context.Context, userID, badgeID string) (bool, error)
}

// AwardResult is returned by Ledger.AwardForTask.
type AwardResult struct {
	AlreadyAwarded bool
	Applied        int64
	NewTier        Tier
	TierChanged    bool
	BadgesAwarded  []string
}

// Ledger is the Reward Ledger.
type Ledger struct {
	store Store
	stats UserStatsProvider
	tasks TaskInfoProvider
	now   func() time.Time
}

// New creates a Reward Ledger.
func New(store Store, stats UserStatsProvider, tasks TaskInfoProvider) *Ledger {
	return &Ledger{store: store, stats: stats, tasks: tasks, now: time.Now}
}

// AwardForTask computes and appends the experience-ledger row for taskID,
// keyed uniquely by task_id. On conflict it returns AlreadyAwarded=true,
// Applied=0 — callers treat that as a successful no-op, not an error.
func (l *Ledger) AwardForTask(ctx context.Context, taskID, userID string) (AwardResult, error) {
	category, grossCents, err := l.tasks.TaskCategoryAndGross(ctx, taskID)
	if err != nil {
		return AwardResult{}, coreerr.Wrap(coreerr.Internal, "reward: read task info", err)
	}

	recentCount, err := l.stats.RecentAwardCount(ctx, userID, l.now().Add(-DecayWindow))
	if err != nil {
		return AwardResult{}, coreerr.Wrap(coreerr.Internal, "reward: read recent award count", err)
	}
	streakDays, err := l.stats.CurrentStreakDays(ctx, userID)
	if err != nil {
		return AwardResult{}, coreerr.Wrap(coreerr.Internal, "reward: read streak", err)
	}
	priorTotal, err := l.stats.TotalXP(ctx, userID)
	if err != nil {
		return AwardResult{}, coreerr.Wrap(coreerr.Internal, "reward: read total XP", err)
	}

	tier := PriceTierForAmount(grossCents)
	base := BaseAmount(category, tier)
	decay := DecayFactor(recentCount)
	streak := StreakMultiplier(streakDays)
	final := FinalAmount(base, decay, streak)

	row := ExperienceRow{
		ID:               idgen.WithPrefix("xp_"),
		UserID:           userID,
		TaskID:           taskID,
		BaseAmount:       base,
		DecayFactor:      decay,
		StreakMultiplier: streak,
		FinalAmount:      final,
		AwardedAt:        l.now(),
	}

	inserted, err := l.store.InsertExperience(ctx, row)
	if err != nil {
		return AwardResult{}, coreerr.Wrap(coreerr.Internal, "reward: insert experience row", err)
	}
	if !inserted {
		return AwardResult{AlreadyAwarded: true, Applied: 0}, nil
	}
	metrics.RewardsAwardedTotal.WithLabelValues(category).Inc()

	result := AwardResult{Applied: final}

	newTotal := priorTotal + final
	oldTier := TierForTotal(priorTotal)
	newTier := TierForTotal(newTotal)
	result.NewTier = newTier

	if newTier > oldTier {
		if err := l.store.InsertTrust(ctx, TrustRow{
			ID:        idgen.WithPrefix("trust_"),
			UserID:    userID,
			OldTier:   oldTier,
			NewTier:   newTier,
			Reason:    "xp_total_threshold",
			AwardedAt: l.now(),
		}); err != nil {
			return AwardResult{}, coreerr.Wrap(coreerr.Internal, "reward: insert trust row", err)
		}
		result.TierChanged = true
		metrics.TrustTierChangesTotal.WithLabelValues("up").Inc()
	}

	awarded, err := l.awardBadges(ctx, userID, newTier, streakDays)
	if err != nil {
		return AwardResult{}, err
	}
	result.BadgesAwarded = awarded

	return result, nil
}

// awardBadges evaluates the static Catalog and appends any newly-earned
// badge rows. The badge ledger is append-only and unique on
// (user_id, badge_id); a badge is never revoked.
func (l *Ledger) awardBadges(ctx context.Context, userID string, tier Tier, streakDays int) ([]string, error) {
	var awarded []string
	for _, b := range EligibleBadges(tier, streakDays) {
		has, err := l.store.HasBadge(ctx, userID, b.ID)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Internal, "reward: check badge", err)
		}
		if has {
			continue
		}
		inserted, err := l.store.InsertBadge(ctx, BadgeRow{
			ID:        idgen.WithPrefix("badge_"),
			UserID:    userID,
			BadgeID:   b.ID,
			Tier:      tier,
			AwardedAt: l.now(),
		})
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Internal, "reward: insert badge", err)
		}
		if inserted {
			awarded = append(awarded, b.ID)
		}
	}
	return awarded, nil
}
