// Package reconciliation periodically compares summed ledger totals
// against the payment gateway's reported balance and records every pass,
// so drift between the two systems of record is caught on a schedule
// rather than during an incident.
package reconciliation

import (
	"context"
	"time"
)

// LedgerSummer returns the sum of the net payout amounts of all escrow
// holds currently in held, in cents.
type LedgerSummer interface {
	SumHeldEscrow(ctx context.Context) (int64, error)
}

// GatewayBalanceProvider returns the gateway's reported available balance
// for the platform account, in cents.
type GatewayBalanceProvider interface {
	Balance(ctx context.Context) (int64, error)
}

// RunStore persists reconciliation_runs rows.
type RunStore interface {
	InsertRun(ctx context.Context, run *Run) error
}

// Run records the outcome of one scheduled reconciliation pass.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	HealedLocks    int
	MismatchesFound int
	LedgerTotal    int64
	GatewayBalance int64
	Diff           int64
}

// Result holds the outcome of a single drift check.
type Result struct {
	Match          bool
	LedgerTotal    int64
	GatewayBalance int64
	Diff           int64
}

// Service performs reconciliation between the ledger and the gateway.
type Service struct {
	summer         LedgerSummer
	gateway        GatewayBalanceProvider
	runs           RunStore
	alertThreshold int64 // cents; differences at or below this count as a match
}

// NewService creates a reconciliation Service. alertThresholdCents
// defaults to 100 (one dollar) if zero or negative.
func NewService(summer LedgerSummer, gw GatewayBalanceProvider, runs RunStore, alertThresholdCents int64) *Service {
	if alertThresholdCents <= 0 {
		alertThresholdCents = 100
	}
	return &Service{summer: summer, gateway: gw, runs: runs, alertThreshold: alertThresholdCents}
}

// Reconcile compares the ledger's held-escrow total against the gateway's
// reported balance and records the pass.
func (s *Service) Reconcile(ctx context.Context) (*Result, error) {
	started := time.Now()

	ledgerTotal, err := s.summer.SumHeldEscrow(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, err
	}
	gatewayBalance, err := s.gateway.Balance(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, err
	}

	diff := gatewayBalance - ledgerTotal
	absDiff := diff
	if absDiff < 0 {
		absDiff = -absDiff
	}
	result := &Result{
		Match:          absDiff <= s.alertThreshold,
		LedgerTotal:    ledgerTotal,
		GatewayBalance: gatewayBalance,
		Diff:           diff,
	}

	reconcileDuration.Observe(time.Since(started).Seconds())
	reconcileLedgerDiffCents.Set(float64(diff))

	mismatches := 0
	if !result.Match {
		mismatches = 1
		reconcileMismatches.Inc()
	}
	if s.runs != nil {
		run := &Run{
			StartedAt:       started,
			FinishedAt:      time.Now(),
			MismatchesFound: mismatches,
			LedgerTotal:     ledgerTotal,
			GatewayBalance:  gatewayBalance,
			Diff:            diff,
		}
		if err := s.runs.InsertRun(ctx, run); err != nil {
			return result, err
		}
	}
	return result, nil
}
