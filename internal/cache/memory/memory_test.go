package memory

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

func TestPriceCacheSetGet(t *testing.T) {
	c := NewPriceCache()

	_, ok := c.Get("BTCUSDT")
	assert.False(t, ok, "never observed symbol must be absent")

	c.Set("btcusdt", 43000.5, 12, true)
	e, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", e.Symbol)
	assert.Equal(t, 43000.5, e.Price)
	assert.Equal(t, int64(12), e.LatencyMs)
	assert.True(t, e.Connected)
	assert.False(t, e.UpdatedAt.IsZero())
}

func TestPriceCacheSetConnectedRetainsPrice(t *testing.T) {
	c := NewPriceCache()
	c.Set("ETHUSDT", 2500, 5, true)

	c.SetConnected([]string{"ETHUSDT", "SOLUSDT"}, false)

	e, ok := c.Get("ETHUSDT")
	require.True(t, ok)
	assert.False(t, e.Connected)
	assert.Equal(t, 2500.0, e.Price)

	_, ok = c.Get("SOLUSDT")
	assert.False(t, ok, "flipping connectivity must not create entries")

	c.SetConnected([]string{"ETHUSDT"}, true)
	e, _ = c.Get("ETHUSDT")
	assert.True(t, e.Connected)
}

func TestPriceCacheConcurrentReadersSeeWholeEntries(t *testing.T) {
	c := NewPriceCache()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 2000; i++ {
			c.Set("BTCUSDT", float64(i), int64(i), true)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				if e, ok := c.Get("BTCUSDT"); ok {
					assert.Equal(t, int64(e.Price), e.LatencyMs)
				}
			}
		}()
	}
	wg.Wait()
}

func TestPriceCacheSnapshotSorted(t *testing.T) {
	c := NewPriceCache()
	c.Set("SOLUSDT", 150, 0, true)
	c.Set("BTCUSDT", 43000, 0, true)

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "BTCUSDT", snap[0].Symbol)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, c.Symbols())
}

func TestPriceCacheSetConnectedWithNonFinitePrice(t *testing.T) {
	c := NewPriceCache()
	c.Set("BTCUSDT", math.NaN(), 0, true)

	done := make(chan struct{})
	go func() {
		c.SetConnected([]string{"BTCUSDT"}, false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SetConnected did not return")
	}

	e, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.False(t, e.Connected)
}

func TestOverrideStoreRejectsNonFinite(t *testing.T) {
	ctx := context.Background()
	o := NewOverrideStore()

	for _, p := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -5} {
		assert.Error(t, o.Set(ctx, "BTCUSDT", p), "price %v", p)
	}
	o.Replace(map[string]float64{"BTCUSDT": math.NaN(), "ETHUSDT": math.Inf(1), "SOLUSDT": 20})
	assert.Equal(t, map[string]float64{"SOLUSDT": 20}, o.All())
}

func TestOverrideStore(t *testing.T) {
	ctx := context.Background()
	o := NewOverrideStore()

	require.NoError(t, o.Set(ctx, "btcusdt", 100))
	p, ok := o.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, p)

	assert.Error(t, o.Set(ctx, "BTCUSDT", 0))

	o.Replace(map[string]float64{"ethusdt": 10, "bad": -1})
	_, ok = o.Get("BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, map[string]float64{"ETHUSDT": 10}, o.All())

	require.NoError(t, o.Delete(ctx, "ETHUSDT"))
	assert.Empty(t, o.All())
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "close:1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "close:1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "close:1", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockManagerExpiry(t *testing.T) {
	lm := NewLockManager()
	now := time.Unix(1_700_000_000, 0)
	lm.clock = func() time.Time { return now }

	stale, err := lm.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := lm.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	// Releasing the expired lease must not drop the new holder.
	stale()
	_, err = lm.Acquire(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	fresh()
}
