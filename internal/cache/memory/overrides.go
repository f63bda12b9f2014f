package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// OverrideStore implements domain.OverrideStore in memory.
type OverrideStore struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewOverrideStore creates an empty OverrideStore.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{prices: make(map[string]float64)}
}

func (o *OverrideStore) Get(symbol string) (float64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prices[normSymbol(symbol)]
	return p, ok
}

func (o *OverrideStore) Set(_ context.Context, symbol string, price float64) error {
	if !domain.UsablePrice(price) {
		return fmt.Errorf("memory: override price must be finite and > 0, got %v", price)
	}
	o.mu.Lock()
	o.prices[normSymbol(symbol)] = price
	o.mu.Unlock()
	return nil
}

func (o *OverrideStore) Delete(_ context.Context, symbol string) error {
	o.mu.Lock()
	delete(o.prices, normSymbol(symbol))
	o.mu.Unlock()
	return nil
}

// All returns a copy of every override.
func (o *OverrideStore) All() map[string]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]float64, len(o.prices))
	for k, v := range o.prices {
		out[k] = v
	}
	return out
}

// Replace swaps the whole override set, used when refreshing from a shared
// backend.
func (o *OverrideStore) Replace(prices map[string]float64) {
	next := make(map[string]float64, len(prices))
	for k, v := range prices {
		if domain.UsablePrice(v) {
			next[normSymbol(k)] = v
		}
	}
	o.mu.Lock()
	o.prices = next
	o.mu.Unlock()
}

var _ domain.OverrideStore = (*OverrideStore)(nil)
