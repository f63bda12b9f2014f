package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/trailbot/internal/cache/memory"
	"github.com/alanyoungcy/trailbot/internal/domain"
)

// OverrideSync shares price overrides between instances through the
// "overrides" hash. Reads are served from the local map, which Run refreshes
// from Redis; writes go to Redis first, then locally.
type OverrideSync struct {
	c        *Client
	local    *memory.OverrideStore
	interval time.Duration
	logger   *slog.Logger
}

// NewOverrideSync wraps local with the shared hash.
func NewOverrideSync(c *Client, local *memory.OverrideStore, interval time.Duration, logger *slog.Logger) *OverrideSync {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OverrideSync{
		c:        c,
		local:    local,
		interval: interval,
		logger:   logger.With(slog.String("component", "override_sync")),
	}
}

func (o *OverrideSync) hashKey() string {
	return o.c.key("overrides")
}

// Get returns the locally known override for symbol.
func (o *OverrideSync) Get(symbol string) (float64, bool) {
	return o.local.Get(symbol)
}

// All returns a copy of the locally known overrides.
func (o *OverrideSync) All() map[string]float64 {
	return o.local.All()
}

// Set stores the override in Redis and locally.
func (o *OverrideSync) Set(ctx context.Context, symbol string, price float64) error {
	if !domain.UsablePrice(price) {
		return fmt.Errorf("redis: override price must be finite and > 0, got %v", price)
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if err := o.c.rdb.HSet(ctx, o.hashKey(), sym, strconv.FormatFloat(price, 'f', -1, 64)).Err(); err != nil {
		return fmt.Errorf("redis: set override %s: %w", sym, err)
	}
	return o.local.Set(ctx, sym, price)
}

// Delete removes the override from Redis and locally.
func (o *OverrideSync) Delete(ctx context.Context, symbol string) error {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if err := o.c.rdb.HDel(ctx, o.hashKey(), sym).Err(); err != nil {
		return fmt.Errorf("redis: delete override %s: %w", sym, err)
	}
	return o.local.Delete(ctx, sym)
}

// Refresh replaces the local map with the shared hash. Unparseable values
// are skipped.
func (o *OverrideSync) Refresh(ctx context.Context) error {
	vals, err := o.c.rdb.HGetAll(ctx, o.hashKey()).Result()
	if err != nil {
		return fmt.Errorf("redis: load overrides: %w", err)
	}
	next := make(map[string]float64, len(vals))
	for sym, raw := range vals {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || !domain.UsablePrice(p) {
			o.logger.WarnContext(ctx, "skipping bad override",
				slog.String("symbol", sym),
				slog.String("value", raw),
			)
			continue
		}
		next[sym] = p
	}
	o.local.Replace(next)
	return nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (o *OverrideSync) Run(ctx context.Context) error {
	if err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
		o.logger.WarnContext(ctx, "override refresh failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
				o.logger.WarnContext(ctx, "override refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

var _ domain.OverrideStore = (*OverrideSync)(nil)
