package store_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localtask/core/internal/moneystate"
	"github.com/localtask/core/internal/store"
	"github.com/localtask/core/internal/testutil"
)

func seedTask(t *testing.T, db *sql.DB, taskID string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO tasks (id, poster_id, category, price_amount, status)
		VALUES ($1, 'poster_1', 'general', 10000, 'ACCEPTED')`, taskID)
	require.NoError(t, err)
}

func TestXPLedger_AppendOnlyTriggers(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	_, err := db.Exec(`INSERT INTO xp_ledger (id, user_id, task_id, base_amount, decay_factor, streak_multiplier, final_amount)
		VALUES ('xp_1', 'user_1', 'task_1', 25, 1.0, 1.0, 25)`)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE xp_ledger SET final_amount = 9999 WHERE id = 'xp_1'`)
	require.Error(t, err, "update on an append-only ledger must be rejected")
	assert.True(t, strings.Contains(err.Error(), "append-only violation"), "got: %v", err)

	_, err = db.Exec(`DELETE FROM xp_ledger WHERE id = 'xp_1'`)
	require.Error(t, err, "delete on an append-only ledger must be rejected")
}

func TestXPLedger_UniqueTaskID(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	_, err := db.Exec(`INSERT INTO xp_ledger (id, user_id, task_id, base_amount, decay_factor, streak_multiplier, final_amount)
		VALUES ('xp_1', 'user_1', 'task_1', 25, 1.0, 1.0, 25)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO xp_ledger (id, user_id, task_id, base_amount, decay_factor, streak_multiplier, final_amount)
		VALUES ('xp_2', 'user_1', 'task_1', 25, 1.0, 1.0, 25)`)
	require.Error(t, err, "second award for the same task must hit the unique constraint")
}

func TestBadgeLedger_DeleteRejected(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	_, err := db.Exec(`INSERT INTO badge_ledger (id, user_id, badge_id, tier) VALUES ('b_1', 'user_1', 'first_task', 1)`)
	require.NoError(t, err)

	_, err = db.Exec(`DELETE FROM badge_ledger WHERE id = 'b_1'`)
	require.Error(t, err)

	_, err = db.Exec(`INSERT INTO badge_ledger (id, user_id, badge_id, tier) VALUES ('b_2', 'user_1', 'first_task', 1)`)
	require.Error(t, err, "one row per (user, badge)")
}

func TestEscrowHold_AmountsImmutable(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	seedTask(t, db, "task_1")

	_, err := db.Exec(`INSERT INTO escrow_holds (task_id, gross_amount, platform_fee_amount, net_payout_amount, status)
		VALUES ('task_1', 10000, 1200, 8800, 'held')`)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE escrow_holds SET gross_amount = 1 WHERE task_id = 'task_1'`)
	require.Error(t, err, "escrow amounts are immutable after insert")

	// Status updates (not touching amounts) stay legal.
	_, err = db.Exec(`UPDATE escrow_holds SET status = 'released' WHERE task_id = 'task_1'`)
	require.NoError(t, err)
}

func TestMoneyStateLock_TerminalImmutable(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	seedTask(t, db, "task_1")

	_, err := db.Exec(`INSERT INTO money_state_lock (task_id, current_state, gateway_payment_intent_id)
		VALUES ('task_1', 'released', 'pi_1')`)
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	locks := moneystate.NewPostgresLockStore(tx)
	err = locks.UpdateState(context.Background(), "task_1", 1, moneystate.StateHeld, "")
	require.Error(t, err, "terminal states are immutable: zero affected rows maps to a blocked mutation")
}

func TestTryClaimRefund_AtMostOneConcurrentClaim(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	seedTask(t, db, "task_1")

	_, err := db.Exec(`INSERT INTO money_state_lock (task_id, current_state, gateway_payment_intent_id)
		VALUES ('task_1', 'held', 'pi_1')`)
	require.NoError(t, err)

	backend := moneystate.NewPostgresBackend(db)
	const n = 4
	wins := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = backend.WithStores(context.Background(), func(s moneystate.Stores) error {
				ok, _, err := s.Locks.TryClaimRefund(context.Background(), "task_1")
				if err != nil {
					return err
				}
				wins[i] = ok
				return nil
			})
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one concurrent refund claim must win")
}

func TestEventStore_ConcurrentAppends_OneWinner(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	events := store.NewPostgresEventStore(db)
	const n = 8
	wins := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := events.Append(context.Background(), "evt_race", "payment_intent.succeeded", []byte(`{}`))
			if err == nil {
				wins[i] = won
			}
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count)

	seen, err := events.Seen(context.Background(), "evt_race")
	require.NoError(t, err)
	assert.True(t, seen)
}
