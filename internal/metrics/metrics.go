// Package metrics provides Prometheus instrumentation for the money and
// trust core. There is no HTTP /metrics endpoint here — exposing one is a
// transport concern owned by whatever process embeds this module — but the
// counters, histograms, and gauges below are live and updated in-process by
// the engines themselves.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MoneyStateTransitionsTotal counts SAGA step transitions by event type and outcome.
	MoneyStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskcore",
			Name:      "money_state_transitions_total",
			Help:      "Money state transitions by event type and outcome.",
		},
		[]string{"event", "outcome"},
	)

	// MoneyStateStepDuration observes the latency of a single SAGA step.
	MoneyStateStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskcore",
			Name:      "money_state_step_duration_seconds",
			Help:      "Latency of a single money-state step, including the gateway call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	// GatewayCompensationsTotal counts compensating gateway actions fired after a
	// later SAGA step failed (intent cancelled after a failed confirm, charge
	// refunded after a failed transfer).
	GatewayCompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskcore",
			Name:      "gateway_compensations_total",
			Help:      "Compensating actions taken after a gateway/store divergence, by result.",
		},
		[]string{"result"},
	)

	// WebhookEventsTotal counts processed gateway webhook events by outcome.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskcore",
			Name:      "webhook_events_total",
			Help:      "Processed gateway webhook events by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	// RecoveryActionsTotal counts divergence-healing actions taken by the recovery pipeline.
	RecoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskcore",
			Name:      "recovery_actions_total",
			Help:      "Webhook recovery pipeline actions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// RewardsAwardedTotal counts reward-ledger awards by category.
	RewardsAwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskcore",
			Name:      "rewards_awarded_total",
			Help:      "Reward ledger awards by category.",
		},
		[]string{"category"},
	)

	// TrustTierChangesTotal counts trust tier transitions.
	TrustTierChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskcore",
			Name:      "trust_tier_changes_total",
			Help:      "Trust tier changes by direction (always up; tiers never decrease).",
		},
		[]string{"direction"},
	)

	// AuthorityDenialsTotal counts Authority Gate denials by subsystem and required level.
	AuthorityDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskcore",
			Name:      "authority_denials_total",
			Help:      "Authority Gate denials by subsystem and required level.",
		},
		[]string{"subsystem", "required_level"},
	)

	// PendingEscrowLocks tracks money state locks currently in a non-terminal state.
	PendingEscrowLocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore", Name: "pending_escrow_locks",
		Help: "Money state locks currently in a non-terminal state.",
	})

	// ReconciliationDrift tracks the last observed ledger/gateway balance drift, in cents.
	ReconciliationDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore", Name: "reconciliation_drift_cents",
		Help: "Absolute drift between summed ledger balances and the gateway's reported balance, in cents.",
	})

	// DB pool gauges, sampled by StartDBStatsCollector.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		MoneyStateTransitionsTotal,
		MoneyStateStepDuration,
		GatewayCompensationsTotal,
		WebhookEventsTotal,
		RecoveryActionsTotal,
		RewardsAwardedTotal,
		TrustTierChangesTotal,
		AuthorityDenialsTotal,
		PendingEscrowLocks,
		ReconciliationDrift,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
