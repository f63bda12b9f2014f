package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// PriceMirror copies the in-process price cache to Redis hashes at
// "price:<SYMBOL>" so other processes can read prices without their own feed.
// Hash fields are price, latency_ms, connected (0/1) and updated_at (unix ms).
type PriceMirror struct {
	c        *Client
	cache    domain.PriceCache
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger
}

// NewPriceMirror creates a PriceMirror. Mirrored keys expire after ten
// intervals without a write.
func NewPriceMirror(c *Client, cache domain.PriceCache, interval time.Duration, logger *slog.Logger) *PriceMirror {
	if interval <= 0 {
		interval = time.Second
	}
	return &PriceMirror{
		c:        c,
		cache:    cache,
		interval: interval,
		ttl:      10 * interval,
		logger:   logger.With(slog.String("component", "price_mirror")),
	}
}

// Run mirrors the cache every interval until ctx is cancelled.
func (pm *PriceMirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := pm.Flush(ctx); err != nil && ctx.Err() == nil {
				pm.logger.WarnContext(ctx, "price mirror flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush writes the current snapshot in one pipeline.
func (pm *PriceMirror) Flush(ctx context.Context) error {
	entries := pm.cache.Snapshot()
	if len(entries) == 0 {
		return nil
	}

	pipe := pm.c.rdb.Pipeline()
	for _, e := range entries {
		key := pm.c.key("price", e.Symbol)
		connected := "0"
		if e.Connected {
			connected = "1"
		}
		pipe.HSet(ctx, key, map[string]interface{}{
			"price":      strconv.FormatFloat(e.Price, 'f', -1, 64),
			"latency_ms": strconv.FormatInt(e.LatencyMs, 10),
			"connected":  connected,
			"updated_at": strconv.FormatInt(e.UpdatedAt.UnixMilli(), 10),
		})
		pipe.PExpire(ctx, key, pm.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: mirror prices: %w", err)
	}
	return nil
}

// Read loads one mirrored entry. It returns domain.ErrNotFound when the
// symbol was never mirrored or has expired.
func (pm *PriceMirror) Read(ctx context.Context, symbol string) (domain.PriceEntry, error) {
	vals, err := pm.c.rdb.HGetAll(ctx, pm.c.key("price", symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceEntry{}, domain.ErrNotFound
		}
		return domain.PriceEntry{}, fmt.Errorf("redis: read price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.PriceEntry{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PriceEntry{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	latency, _ := strconv.ParseInt(vals["latency_ms"], 10, 64)
	updated, _ := strconv.ParseInt(vals["updated_at"], 10, 64)

	return domain.PriceEntry{
		Symbol:    symbol,
		Price:     price,
		LatencyMs: latency,
		Connected: vals["connected"] == "1",
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}, nil
}
