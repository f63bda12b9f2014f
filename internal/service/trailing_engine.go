package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
	"github.com/alanyoungcy/trailbot/internal/trailing"
)

// PriceSource resolves the usable price of a symbol.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// PositionCloser runs the shared close routine for a triggered position.
type PositionCloser interface {
	CloseTriggered(ctx context.Context, id string) (domain.Position, error)
}

// TrailingEngine evaluates every ACTIVE position against the resolved price
// on a fixed tick, persists the tracking state and closes positions whose
// take-profit was crossed.
type TrailingEngine struct {
	positions domain.PositionStore
	prices    PriceSource
	closer    PositionCloser
	events    domain.EventPublisher
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	inflight sync.Map // position id -> struct{}
	wg       sync.WaitGroup
}

// NewTrailingEngine creates a TrailingEngine ticking every interval.
func NewTrailingEngine(
	positions domain.PositionStore,
	prices PriceSource,
	closer PositionCloser,
	events domain.EventPublisher,
	interval time.Duration,
	logger *slog.Logger,
) *TrailingEngine {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &TrailingEngine{
		positions: positions,
		prices:    prices,
		closer:    closer,
		events:    events,
		interval:  interval,
		logger:    logger.With(slog.String("component", "trailing_engine")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight closes.
func (e *TrailingEngine) Run(ctx context.Context) error {
	e.logger.Info("trailing engine started", slog.Duration("interval", e.interval))
	defer e.logger.Info("trailing engine stopped")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick evaluates every ACTIVE position once. Triggered closes run in the
// background so one slow exchange call does not stall the other positions.
func (e *TrailingEngine) Tick(ctx context.Context) {
	active, err := e.positions.ListActive(ctx)
	if err != nil {
		e.logger.Error("list active positions failed", slog.String("error", err.Error()))
		return
	}
	for _, p := range active {
		if ctx.Err() != nil {
			return
		}
		e.evaluate(ctx, p)
	}
}

func (e *TrailingEngine) evaluate(ctx context.Context, p domain.Position) {
	if _, busy := e.inflight.Load(p.ID); busy {
		return
	}
	price, ok := e.prices.Price(p.Symbol)
	if !ok {
		return
	}

	ev := trailing.Evaluate(p, price)
	now := e.now()
	upd := domain.TrackingUpdate{
		PositionID:      p.ID,
		LastPrice:       price,
		PeakPrice:       ev.Peak,
		TakeProfitPrice: ev.TakeProfit,
		UnrealizedPnL:   ev.UnrealizedPnL,
		UpdatedAt:       now,
	}
	if ev.Moved {
		upd.Audit = &domain.AuditEntry{
			CreatedAt:  now,
			OwnerID:    p.OwnerID,
			Scope:      domain.ScopeEngine,
			Action:     domain.ActionTakeProfitMoved,
			PositionID: p.ID,
			Payload: map[string]any{
				"from":  p.TakeProfitPrice,
				"to":    ev.TakeProfit,
				"peak":  *ev.Peak,
				"price": price,
			},
		}
	}

	if err := e.positions.UpdateTracking(ctx, upd); err != nil {
		if !errors.Is(err, domain.ErrNotActive) {
			e.logger.Error("update tracking failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if ev.Moved {
		e.logger.Info("take-profit moved",
			slog.String("position_id", p.ID),
			slog.Float64("from", p.TakeProfitPrice),
			slog.Float64("to", ev.TakeProfit),
		)
		if e.events != nil {
			e.events.Publish(ctx, domain.Event{
				Type:       domain.EventTakeProfitMoved,
				OwnerID:    p.OwnerID,
				PositionID: p.ID,
				Symbol:     p.Symbol,
				Payload:    map[string]any{"from": p.TakeProfitPrice, "to": ev.TakeProfit, "price": price},
				At:         now,
			})
		}
	}

	if ev.Triggered {
		e.triggerClose(ctx, p, price, ev.TakeProfit)
	}
}

func (e *TrailingEngine) triggerClose(ctx context.Context, p domain.Position, price, takeProfit float64) {
	if _, loaded := e.inflight.LoadOrStore(p.ID, struct{}{}); loaded {
		return
	}
	e.logger.Info("take-profit triggered",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.Float64("price", price),
		slog.Float64("take_profit", takeProfit),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.inflight.Delete(p.ID)

		_, err := e.closer.CloseTriggered(context.WithoutCancel(ctx), p.ID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrAlreadyClosed), errors.Is(err, domain.ErrNotActive):
			e.logger.Debug("triggered close skipped",
				slog.String("position_id", p.ID),
				slog.String("reason", err.Error()),
			)
		default:
			e.logger.Warn("triggered close failed, retrying next tick",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every background close has finished.
func (e *TrailingEngine) Wait() {
	e.wg.Wait()
}
