package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/trailbot/internal/crypto"
	"github.com/alanyoungcy/trailbot/internal/domain"
	"github.com/alanyoungcy/trailbot/internal/platform/binance"
)

// OrderPlacer submits a signed market order.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, auth *crypto.HMACAuth, order binance.MarketOrder) (binance.OrderResponse, error)
}

// Live places real market orders with the owner's linked credentials.
type Live struct {
	orders     OrderPlacer
	creds      domain.CredentialSource
	prices     PriceSource
	limiter    *rate.Limiter
	quoteAsset string
	logger     *slog.Logger
}

// NewLive creates a live adapter limited to ordersPerSecond submissions.
func NewLive(orders OrderPlacer, creds domain.CredentialSource, prices PriceSource, quoteAsset string, ordersPerSecond float64, logger *slog.Logger) *Live {
	burst := int(ordersPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Live{
		orders:     orders,
		creds:      creds,
		prices:     prices,
		limiter:    rate.NewLimiter(rate.Limit(ordersPerSecond), burst),
		quoteAsset: quoteAsset,
		logger:     logger.With(slog.String("component", "executor_live")),
	}
}

// PlaceOpen buys notional worth of symbol with a MARKET quoteOrderQty order.
func (l *Live) PlaceOpen(ctx context.Context, ownerID, symbol string, notional float64) (domain.Fill, error) {
	if err := validateOrder(symbol, notional); err != nil {
		return domain.Fill{}, err
	}
	return l.place(ctx, ownerID, binance.MarketOrder{
		Symbol:   symbol,
		Side:     domain.SideBuy,
		QuoteQty: decimal.NewFromFloat(notional).String(),
	})
}

// PlaceClose sells quantity of symbol with a MARKET order.
func (l *Live) PlaceClose(ctx context.Context, ownerID, symbol string, quantity float64) (domain.Fill, error) {
	if err := validateOrder(symbol, quantity); err != nil {
		return domain.Fill{}, err
	}
	return l.place(ctx, ownerID, binance.MarketOrder{
		Symbol:   symbol,
		Side:     domain.SideSell,
		Quantity: decimal.NewFromFloat(quantity).String(),
	})
}

func (l *Live) place(ctx context.Context, ownerID string, order binance.MarketOrder) (domain.Fill, error) {
	if _, ok := l.prices.Price(order.Symbol); !ok {
		return domain.Fill{}, fmt.Errorf("executor: live %s %s: %w", order.Side, order.Symbol, domain.ErrNoPriceAvailable)
	}

	creds, err := l.creds.Credentials(ctx, ownerID)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: live credentials for %s: %w", ownerID, err)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return domain.Fill{}, fmt.Errorf("executor: order rate limit: %w", err)
	}

	auth := &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret}
	resp, err := l.orders.PlaceMarketOrder(ctx, auth, order)
	if err != nil {
		l.logger.Warn("order rejected",
			slog.String("owner", ownerID),
			slog.String("symbol", order.Symbol),
			slog.String("side", string(order.Side)),
			slog.String("error", err.Error()),
		)
		return domain.Fill{}, fmt.Errorf("executor: live %s %s: %w", order.Side, order.Symbol, err)
	}

	fill, err := l.toFill(resp)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: live %s %s: %w", order.Side, order.Symbol, err)
	}
	l.logger.Info("order filled",
		slog.String("owner", ownerID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.String("order_id", fill.OrderID),
		slog.Float64("qty", fill.Quantity),
		slog.Float64("avg_price", fill.AvgPrice),
	)
	return fill, nil
}

// toFill derives quantity, average price and quote-denominated fee from a
// FULL order response. Commissions charged in another asset are valued at
// the price of the fill that incurred them.
func (l *Live) toFill(resp binance.OrderResponse) (domain.Fill, error) {
	qty, err := decimal.NewFromString(resp.ExecutedQty)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("parse executedQty %q: %w", resp.ExecutedQty, err)
	}
	quote, err := decimal.NewFromString(resp.CummulativeQuoteQty)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("parse cummulativeQuoteQty %q: %w", resp.CummulativeQuoteQty, err)
	}
	if !qty.IsPositive() {
		return domain.Fill{}, fmt.Errorf("%w: order %d not filled (status %s)", domain.ErrUpstreamRejected, resp.OrderID, resp.Status)
	}

	fee := decimal.Zero
	for _, f := range resp.Fills {
		commission, err := decimal.NewFromString(f.Commission)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("parse commission %q: %w", f.Commission, err)
		}
		if f.CommissionAsset != "" && f.CommissionAsset != l.quoteAsset {
			price, err := decimal.NewFromString(f.Price)
			if err != nil {
				return domain.Fill{}, fmt.Errorf("parse fill price %q: %w", f.Price, err)
			}
			commission = commission.Mul(price)
		}
		fee = fee.Add(commission)
	}

	return domain.Fill{
		Quantity: qty.InexactFloat64(),
		AvgPrice: quote.Div(qty).InexactFloat64(),
		Fee:      fee.InexactFloat64(),
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
	}, nil
}

var _ domain.ExecutionAdapter = (*Live)(nil)
