// Package core assembles the money and trust primitives — the Money
// State Engine, Webhook Recovery Pipeline, Reward Ledger, Proof Gate, and
// Authority Gate — into one explicitly constructed value. There are no
// process-global singletons and no lazily-initialized clients: tests
// construct a Core over in-memory stores, production wires NewPostgres.
package core

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/localtask/core/internal/alerts"
	"github.com/localtask/core/internal/config"
	"github.com/localtask/core/internal/gateway"
	"github.com/localtask/core/internal/moneystate"
	"github.com/localtask/core/internal/proof"
	"github.com/localtask/core/internal/reconciliation"
	"github.com/localtask/core/internal/reward"
	"github.com/localtask/core/internal/store"
	"github.com/localtask/core/internal/wallet"
	"github.com/localtask/core/internal/webhookrecovery"
)

// Core owns every store handle, the gateway client, the alert sink, and
// the idempotency cache this module needs. The Authority Gate is stateless
// (authority.Validate/authority.Tool are free functions over a package
// Catalog) and so is not itself a field here.
type Core struct {
	Engine         *moneystate.Engine
	Proof          *proof.Gate
	Reward         *reward.Ledger
	Webhooks       *webhookrecovery.Pipeline
	Reconcile      *reconciliation.Service
	Alerts         *alerts.Sink
	ReconcileTimer *reconciliation.Timer
	RetryTimer     *webhookrecovery.Timer
	Wallet         *wallet.Service

	gw gateway.Client

	// Memory carries the in-memory fixtures when the Core was built by
	// NewMemory, so tests can seed task status, reward inputs, and admin
	// locks directly. Nil for a NewPostgres Core.
	Memory *MemoryFixtures
}

// MemoryFixtures exposes the in-memory stores backing a NewMemory Core.
type MemoryFixtures struct {
	Backend     *moneystate.MemoryBackend
	AdminLocks  *store.MemoryAdminLockStore
	Events      *store.MemoryEventStore
	ProofStore  *proof.MemoryStore
	RewardStore *reward.MemoryStore
	RewardStats *reward.MemoryUserStats
	RewardTasks *reward.MemoryTaskInfo
	WalletStore *wallet.MemoryStore
}

// Deps are the externally supplied collaborators a Core is built from.
type Deps struct {
	Gateway gateway.Client
	Logger  *slog.Logger
	Config  config.Config
}

// NewPostgres assembles a Core backed by db.
func NewPostgres(db *sql.DB, deps Deps) *Core {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	admin := store.NewPostgresAdminLockStore(db)
	events := store.NewPostgresEventStore(db)
	guard := store.NewGuard(events, 10000)

	proofStore := proof.NewPostgresStore(db)
	proofGate := proof.New(proofStore)

	rewardStore := reward.NewPostgresStore(db)
	rewardStats := reward.NewPostgresUserStats(db)
	rewardTasks := reward.NewPostgresTaskInfo(db)
	rewardLedger := reward.New(rewardStore, rewardStats, rewardTasks)

	var primaryChannel alerts.Channel
	alertSink := alerts.New(logger, primaryChannel, nil)

	backend := moneystate.NewPostgresBackend(db)
	engine := moneystate.New(backend, deps.Gateway, proofGate, rewardLedger, alertSink, admin, moneystate.Config{
		PlatformFeeBps:      deps.Config.PlatformFeeBps,
		InstantPayoutFeeBps: deps.Config.InstantPayoutFeeBps,
	})

	retryJobs := store.NewPostgresJobQueueStore(db)
	pipeline := webhookrecovery.New(guard, backend, alertSink, logger, deps.Config.PlatformFeeBps, retryJobs)
	retryTimer := webhookrecovery.NewTimer(pipeline, retryJobs, deps.Config.WebhookRecoveryPollInterval, logger)

	reconSvc := reconciliation.NewService(
		reconciliation.NewPostgresLedgerSummer(db),
		deps.Gateway,
		reconciliation.NewPostgresRunStore(db),
		100,
	)
	reconTimer := reconciliation.NewTimer(reconSvc, deps.Config.ReconciliationInterval, logger)

	return &Core{
		Engine:         engine,
		Proof:          proofGate,
		Reward:         rewardLedger,
		Webhooks:       pipeline,
		Reconcile:      reconSvc,
		Alerts:         alertSink,
		ReconcileTimer: reconTimer,
		RetryTimer:     retryTimer,
		Wallet:         wallet.New(wallet.NewPostgresStore(db)),
		gw:             deps.Gateway,
	}
}

// NewMemory assembles a Core over in-memory stores, for tests.
func NewMemory(gw gateway.Client, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}

	admin := store.NewMemoryAdminLockStore()
	events := store.NewMemoryEventStore()
	guard := store.NewGuard(events, 10000)

	proofStore := proof.NewMemoryStore()
	proofGate := proof.New(proofStore)

	rewardStore := reward.NewMemoryStore()
	rewardStats := reward.NewMemoryUserStats()
	rewardTasks := reward.NewMemoryTaskInfo()
	rewardLedger := reward.New(rewardStore, rewardStats, rewardTasks)

	alertSink := alerts.New(logger, nil, nil)

	backend := moneystate.NewMemoryBackend()
	engine := moneystate.New(backend, gw, proofGate, rewardLedger, alertSink, admin, moneystate.Config{
		PlatformFeeBps:      config.DefaultPlatformFeeBps,
		InstantPayoutFeeBps: config.DefaultInstantPayoutFeeBps,
	})

	retryJobs := store.NewMemoryJobQueueStore()
	pipeline := webhookrecovery.New(guard, backend, alertSink, logger, config.DefaultPlatformFeeBps, retryJobs)

	walletStore := wallet.NewMemoryStore()

	return &Core{
		Engine:   engine,
		Proof:    proofGate,
		Reward:   rewardLedger,
		Webhooks: pipeline,
		Alerts:   alertSink,
		Wallet:   wallet.New(walletStore),
		gw:       gw,
		Memory: &MemoryFixtures{
			WalletStore: walletStore,
			Backend:     backend,
			AdminLocks:  admin,
			Events:      events,
			ProofStore:  proofStore,
			RewardStore: rewardStore,
			RewardStats: rewardStats,
			RewardTasks: rewardTasks,
		},
	}
}

// StartBackgroundJobs launches the reconciliation and recovery-retry
// timers. Timers left unwired (e.g. a NewMemory Core in tests) are
// skipped.
func (c *Core) StartBackgroundJobs(ctx context.Context) {
	if c.ReconcileTimer != nil {
		go c.ReconcileTimer.Start(ctx)
	}
	if c.RetryTimer != nil {
		go c.RetryTimer.Start(ctx)
	}
}

// HandleGatewayWebhook verifies and dispatches one raw gateway webhook
// delivery. Signature verification happens via gw.VerifyWebhook; the
// pipeline never returns an error across this boundary — any failure is
// logged and alerted, and this method still reports success so the
// gateway does not retry forever.
func (c *Core) HandleGatewayWebhook(ctx context.Context, rawBody []byte, signature, webhookSecret string) {
	event, err := c.gw.VerifyWebhook(rawBody, signature, webhookSecret)
	if err != nil {
		c.Alerts.Fire(ctx, alerts.TypeOrderingViolation, "gateway webhook signature verification failed", nil)
		return
	}
	c.Webhooks.HandleEvent(ctx, event)
}
