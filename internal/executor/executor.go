// Package executor turns open and close decisions into fills, either
// simulated against the resolved price or placed on the exchange.
package executor

import (
	"context"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// PriceSource resolves the usable price of a symbol.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// SettingsReader reads per-owner settings.
type SettingsReader interface {
	GetSettings(ctx context.Context, ownerID string) (domain.UserSettings, error)
}

func validateOrder(symbol string, amount float64) error {
	if symbol == "" || amount <= 0 {
		return domain.ErrInvalidPosition
	}
	return nil
}
