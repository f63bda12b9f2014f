// Package memory implements the in-process caches: the price table, the
// override map and a local lock manager.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// PriceCache implements domain.PriceCache on a map of whole PriceEntry
// values guarded by an RWMutex. Each write replaces the entry, so readers
// never see a torn value.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]domain.PriceEntry
	now     func() time.Time
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{entries: make(map[string]domain.PriceEntry), now: time.Now}
}

func normSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Get returns the latest entry for symbol, or false if it was never observed.
func (c *PriceCache) Get(symbol string) (domain.PriceEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[normSymbol(symbol)]
	return e, ok
}

// Set overwrites the entry for symbol.
func (c *PriceCache) Set(symbol string, price float64, latencyMs int64, connected bool) {
	sym := normSymbol(symbol)
	e := domain.PriceEntry{
		Symbol:    sym,
		Price:     price,
		LatencyMs: latencyMs,
		Connected: connected,
		UpdatedAt: c.now().UTC(),
	}
	c.mu.Lock()
	c.entries[sym] = e
	c.mu.Unlock()
}

// SetConnected flips the connectivity flag of every listed symbol that has an
// entry. Prices and update times are retained.
func (c *PriceCache) SetConnected(symbols []string, connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		sym := normSymbol(s)
		if e, ok := c.entries[sym]; ok {
			e.Connected = connected
			c.entries[sym] = e
		}
	}
}

// Symbols returns every cached symbol.
func (c *PriceCache) Symbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.entries))
	for sym := range c.entries {
		out = append(out, sym)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot returns every entry sorted by symbol.
func (c *PriceCache) Snapshot() []domain.PriceEntry {
	c.mu.RLock()
	out := make([]domain.PriceEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

var _ domain.PriceCache = (*PriceCache)(nil)
