// Package pricing resolves the price used for decisions and fills.
package pricing

import "github.com/alanyoungcy/trailbot/internal/domain"

// Resolver combines the override map and the feed-fed price cache. An
// override always wins over the feed.
type Resolver struct {
	cache     domain.PriceCache
	overrides domain.OverrideStore
}

// NewResolver creates a Resolver. overrides may be nil.
func NewResolver(cache domain.PriceCache, overrides domain.OverrideStore) *Resolver {
	return &Resolver{cache: cache, overrides: overrides}
}

// Price returns the usable price for symbol. A zero, negative or absent price
// is reported as unavailable.
func (r *Resolver) Price(symbol string) (float64, bool) {
	if r.overrides != nil {
		if p, ok := r.overrides.Get(symbol); ok && domain.UsablePrice(p) {
			return p, true
		}
	}
	e, ok := r.cache.Get(symbol)
	if !ok || !domain.UsablePrice(e.Price) {
		return 0, false
	}
	return e.Price, true
}

// Entry returns the cache entry for symbol with the resolved price applied,
// for display to the query layer.
func (r *Resolver) Entry(symbol string) (domain.PriceEntry, bool) {
	e, ok := r.cache.Get(symbol)
	if p, has := r.Price(symbol); has {
		if !ok {
			e = domain.PriceEntry{Symbol: symbol}
		}
		e.Price = p
		return e, true
	}
	return e, ok
}
