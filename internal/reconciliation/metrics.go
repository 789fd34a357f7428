package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileLedgerDiffCents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskcore",
		Subsystem: "reconciliation",
		Name:      "ledger_gateway_diff_cents",
		Help:      "Signed difference between gateway balance and summed held escrow, in cents, from the last run.",
	})

	reconcileMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskcore",
		Subsystem: "reconciliation",
		Name:      "mismatches_total",
		Help:      "Total reconciliation runs that found drift beyond the alert threshold.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskcore",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskcore",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileLedgerDiffCents,
		reconcileMismatches,
		reconcileDuration,
		reconcileErrors,
	)
}
