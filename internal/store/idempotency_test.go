package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_ClaimOnce(t *testing.T) {
	events := NewMemoryEventStore()
	g := NewGuard(events, 10)
	ctx := context.Background()

	won, err := g.Claim(ctx, "evt_1", "payment_intent.succeeded", nil)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = g.Claim(ctx, "evt_1", "payment_intent.succeeded", nil)
	require.NoError(t, err)
	assert.False(t, won, "second claim on the same event must lose")
}

func TestGuard_Seen_ChecksStoreOnCacheMiss(t *testing.T) {
	events := NewMemoryEventStore()
	ctx := context.Background()
	_, _ = events.Append(ctx, "evt_2", "transfer.created", nil)

	g := NewGuard(events, 10)
	assert.True(t, g.Seen(ctx, "evt_2"), "guard must fall through to the authoritative store")
	assert.False(t, g.Seen(ctx, "evt_unknown"))
}

func TestGuard_ConcurrentClaims_ExactlyOneWinner(t *testing.T) {
	events := NewMemoryEventStore()
	g := NewGuard(events, 10)
	ctx := context.Background()

	const n = 20
	wins := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, _ := g.Claim(ctx, "evt_race", "payment_intent.succeeded", nil)
			wins[i] = won
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one concurrent claim must win")
}

func TestGuard_EvictsOldestBeyondCapacity(t *testing.T) {
	events := NewMemoryEventStore()
	g := NewGuard(events, 2)
	ctx := context.Background()

	_, _ = g.Claim(ctx, "evt_a", "t", nil)
	_, _ = g.Claim(ctx, "evt_b", "t", nil)
	_, _ = g.Claim(ctx, "evt_c", "t", nil) // evicts evt_a from the in-process cache

	g.mu.Lock()
	_, cached := g.index["evt_a"]
	g.mu.Unlock()
	assert.False(t, cached, "oldest entry should be evicted from the fast-path cache")

	// The authoritative store still remembers it, so Seen must still return true.
	assert.True(t, g.Seen(ctx, "evt_a"))
}
