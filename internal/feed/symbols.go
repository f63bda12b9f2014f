package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// SymbolSource reports the set of symbols the feed must cover.
type SymbolSource interface {
	RequiredSymbols(ctx context.Context) ([]string, error)
}

// StoreSymbols is the union of every owner's display symbol and every
// ACTIVE position's symbol.
type StoreSymbols struct {
	positions domain.PositionStore
	accounts  domain.AccountStore
}

// NewStoreSymbols creates a StoreSymbols.
func NewStoreSymbols(positions domain.PositionStore, accounts domain.AccountStore) *StoreSymbols {
	return &StoreSymbols{positions: positions, accounts: accounts}
}

// RequiredSymbols returns the sorted, upper-cased union.
func (s *StoreSymbols) RequiredSymbols(ctx context.Context) ([]string, error) {
	active, err := s.positions.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: active symbols: %w", err)
	}
	display, err := s.accounts.DisplaySymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: display symbols: %w", err)
	}
	return normalizeSet(append(active, display...)), nil
}

func normalizeSet(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
