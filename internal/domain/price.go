package domain

import (
	"context"
	"math"
	"time"
)

// LatencyCapMs is the largest feed latency recorded for a tick. Larger or
// skewed values are clamped to it.
const LatencyCapMs int64 = 99_999

// UsablePrice reports whether p is a finite price above zero.
func UsablePrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// PriceEntry is the cached state of one symbol.
type PriceEntry struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	LatencyMs int64     `json:"latency_ms"`
	Connected bool      `json:"connected"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceCache is the in-process symbol -> latest price table shared by the feed,
// the engine, the executors and the query layer.
type PriceCache interface {
	Get(symbol string) (PriceEntry, bool)
	Set(symbol string, price float64, latencyMs int64, connected bool)
	SetConnected(symbols []string, connected bool)
	Snapshot() []PriceEntry
}

// OverrideStore holds manually injected prices keyed by symbol. An override
// takes precedence over the feed price wherever prices are resolved.
type OverrideStore interface {
	Get(symbol string) (float64, bool)
	Set(ctx context.Context, symbol string, price float64) error
	Delete(ctx context.Context, symbol string) error
	All() map[string]float64
}
