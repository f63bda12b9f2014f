package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// PriceResolver exposes resolved prices for display.
type PriceResolver interface {
	Price(symbol string) (float64, bool)
	Entry(symbol string) (domain.PriceEntry, bool)
}

// PriceService serves the price snapshot to the query layer and manages
// manual price overrides.
type PriceService struct {
	cache     domain.PriceCache
	resolver  PriceResolver
	overrides domain.OverrideStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewPriceService creates a PriceService with all required dependencies.
func NewPriceService(
	cache domain.PriceCache,
	resolver PriceResolver,
	overrides domain.OverrideStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		cache:     cache,
		resolver:  resolver,
		overrides: overrides,
		audit:     audit,
		logger:    logger,
	}
}

// Snapshot returns every cached symbol with overrides applied, plus
// override-only symbols the feed has never observed.
func (s *PriceService) Snapshot() []domain.PriceEntry {
	entries := s.cache.Snapshot()
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		seen[e.Symbol] = true
		if p, ok := s.resolver.Price(e.Symbol); ok {
			entries[i].Price = p
		}
	}
	for sym, p := range s.overrides.All() {
		if !seen[sym] {
			entries = append(entries, domain.PriceEntry{Symbol: sym, Price: p})
		}
	}
	return entries
}

// Get returns the resolved entry for one symbol or domain.ErrNotFound.
func (s *PriceService) Get(symbol string) (domain.PriceEntry, error) {
	e, ok := s.resolver.Entry(strings.ToUpper(strings.TrimSpace(symbol)))
	if !ok {
		return domain.PriceEntry{}, domain.ErrNotFound
	}
	return e, nil
}

// SetOverride pins symbol to price everywhere prices are resolved.
func (s *PriceService) SetOverride(ctx context.Context, symbol string, price float64) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || !domain.UsablePrice(price) {
		return fmt.Errorf("price_service: override needs a symbol and a positive price: %w", domain.ErrInvalidPosition)
	}
	if err := s.overrides.Set(ctx, symbol, price); err != nil {
		return fmt.Errorf("price_service: set override %s: %w", symbol, err)
	}
	s.appendAudit(ctx, domain.ActionOverrideSet, map[string]any{"symbol": symbol, "price": price})
	s.logger.InfoContext(ctx, "price_service: override set",
		slog.String("symbol", symbol),
		slog.Float64("price", price),
	)
	return nil
}

// ClearOverride removes the override for symbol.
func (s *PriceService) ClearOverride(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := s.overrides.Get(symbol); !ok {
		return domain.ErrNotFound
	}
	if err := s.overrides.Delete(ctx, symbol); err != nil {
		return fmt.Errorf("price_service: clear override %s: %w", symbol, err)
	}
	s.appendAudit(ctx, domain.ActionOverrideCleared, map[string]any{"symbol": symbol})
	s.logger.InfoContext(ctx, "price_service: override cleared", slog.String("symbol", symbol))
	return nil
}

func (s *PriceService) appendAudit(ctx context.Context, action string, payload map[string]any) {
	err := s.audit.Append(ctx, domain.AuditEntry{
		CreatedAt: time.Now().UTC(),
		Scope:     domain.ScopeAPI,
		Action:    action,
		Payload:   payload,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "price_service: audit log failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
