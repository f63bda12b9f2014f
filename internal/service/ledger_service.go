package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// LedgerService answers queries over the trade and audit ledgers.
type LedgerService struct {
	trades domain.TradeStore
	audit  domain.AuditStore
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(trades domain.TradeStore, audit domain.AuditStore) *LedgerService {
	return &LedgerService{trades: trades, audit: audit}
}

// Trades returns an owner's trades, newest first.
func (s *LedgerService) Trades(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: trades for %q: %w", ownerID, err)
	}
	return trades, nil
}

// Audit returns audit entries, newest first. An empty ownerID lists all.
func (s *LedgerService) Audit(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, ownerID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: audit for %q: %w", ownerID, err)
	}
	return entries, nil
}
