package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/cache/memory"
)

func TestResolverOverrideWins(t *testing.T) {
	cache := memory.NewPriceCache()
	overrides := memory.NewOverrideStore()
	r := NewResolver(cache, overrides)

	_, ok := r.Price("BTCUSDT")
	assert.False(t, ok)

	cache.Set("BTCUSDT", 0, 0, true)
	_, ok = r.Price("BTCUSDT")
	assert.False(t, ok, "zero price is unavailable")

	cache.Set("BTCUSDT", 100, 0, true)
	p, ok := r.Price("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, p)

	require.NoError(t, overrides.Set(context.Background(), "BTCUSDT", 90))
	p, ok = r.Price("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 90.0, p)

	e, ok := r.Entry("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 90.0, e.Price)
	assert.True(t, e.Connected)
}

func TestResolverNilOverrides(t *testing.T) {
	cache := memory.NewPriceCache()
	cache.Set("ETHUSDT", 2500, 0, false)
	p, ok := NewResolver(cache, nil).Price("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 2500.0, p)
}
