package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// Simulated fills every order instantly at the resolved price and charges a
// basis-point fee on the fill notional.
type Simulated struct {
	prices        PriceSource
	settings      SettingsReader
	defaultFeeBps float64
	logger        *slog.Logger
}

// NewSimulated creates a simulated adapter. settings may be nil, in which case
// every owner pays defaultFeeBps.
func NewSimulated(prices PriceSource, settings SettingsReader, defaultFeeBps float64, logger *slog.Logger) *Simulated {
	return &Simulated{
		prices:        prices,
		settings:      settings,
		defaultFeeBps: defaultFeeBps,
		logger:        logger.With(slog.String("component", "executor_sim")),
	}
}

// PlaceOpen buys notional worth of symbol at the resolved price.
func (s *Simulated) PlaceOpen(ctx context.Context, ownerID, symbol string, notional float64) (domain.Fill, error) {
	if err := validateOrder(symbol, notional); err != nil {
		return domain.Fill{}, err
	}
	price, ok := s.prices.Price(symbol)
	if !ok {
		return domain.Fill{}, fmt.Errorf("executor: simulate open %s: %w", symbol, domain.ErrNoPriceAvailable)
	}

	px := decimal.NewFromFloat(price)
	n := decimal.NewFromFloat(notional)
	qty := n.Div(px)
	fee := n.Mul(s.feeRate(ctx, ownerID))

	return domain.Fill{
		Quantity: qty.InexactFloat64(),
		AvgPrice: price,
		Fee:      fee.InexactFloat64(),
		OrderID:  "sim-" + uuid.NewString(),
	}, nil
}

// PlaceClose sells quantity of symbol at the resolved price.
func (s *Simulated) PlaceClose(ctx context.Context, ownerID, symbol string, quantity float64) (domain.Fill, error) {
	if err := validateOrder(symbol, quantity); err != nil {
		return domain.Fill{}, err
	}
	price, ok := s.prices.Price(symbol)
	if !ok {
		return domain.Fill{}, fmt.Errorf("executor: simulate close %s: %w", symbol, domain.ErrNoPriceAvailable)
	}

	notional := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price))
	fee := notional.Mul(s.feeRate(ctx, ownerID))

	return domain.Fill{
		Quantity: quantity,
		AvgPrice: price,
		Fee:      fee.InexactFloat64(),
		OrderID:  "sim-" + uuid.NewString(),
	}, nil
}

// feeRate returns the owner's fee as a fraction of notional.
func (s *Simulated) feeRate(ctx context.Context, ownerID string) decimal.Decimal {
	bps := s.defaultFeeBps
	if s.settings != nil {
		us, err := s.settings.GetSettings(ctx, ownerID)
		switch {
		case err == nil && us.FeeRateBps != nil:
			bps = *us.FeeRateBps
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("settings lookup failed, using default fee",
				slog.String("owner", ownerID),
				slog.String("error", err.Error()),
			)
		}
	}
	return decimal.NewFromFloat(bps).Div(bpsDivisor)
}

var _ domain.ExecutionAdapter = (*Simulated)(nil)
