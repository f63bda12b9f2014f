package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/trailbot/internal/domain"
	"github.com/alanyoungcy/trailbot/internal/trailing"
)

const (
	openWaitAttempts = 20
	openWaitInterval = 50 * time.Millisecond
)

// AdapterRouter selects the execution adapter for a position mode.
type AdapterRouter interface {
	For(mode domain.Mode) (domain.ExecutionAdapter, error)
}

// PositionService owns the position lifecycle: idempotent open, the shared
// close routine, and the pause/resume/stop transitions.
type PositionService struct {
	positions    domain.PositionStore
	trades       domain.TradeStore
	idempotency  domain.IdempotencyStore
	audit        domain.AuditStore
	settings     domain.AccountStore
	adapters     AdapterRouter
	locks        domain.LockManager
	events       domain.EventPublisher
	closeLockTTL time.Duration
	defaultStep  float64
	logger       *slog.Logger
	now          func() time.Time
}

// PositionServiceConfig groups the collaborators of a PositionService.
// Settings may be nil.
type PositionServiceConfig struct {
	Positions    domain.PositionStore
	Trades       domain.TradeStore
	Idempotency  domain.IdempotencyStore
	Audit        domain.AuditStore
	Settings     domain.AccountStore
	Adapters     AdapterRouter
	Locks        domain.LockManager
	Events       domain.EventPublisher
	CloseLockTTL time.Duration
	DefaultStep  float64
}

// NewPositionService creates a PositionService.
func NewPositionService(cfg PositionServiceConfig, logger *slog.Logger) *PositionService {
	ttl := cfg.CloseLockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PositionService{
		positions:    cfg.Positions,
		trades:       cfg.Trades,
		idempotency:  cfg.Idempotency,
		audit:        cfg.Audit,
		settings:     cfg.Settings,
		adapters:     cfg.Adapters,
		locks:        cfg.Locks,
		events:       cfg.Events,
		closeLockTTL: ttl,
		defaultStep:  trailing.StepOrDefault(cfg.DefaultStep),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Open executes a buy and starts watching the resulting position. A repeated
// idempotency token returns the original position with Duplicate set and
// places no order.
func (s *PositionService) Open(ctx context.Context, req domain.OpenRequest) (domain.OpenResult, error) {
	req, err := s.normalize(ctx, req)
	if err != nil {
		return domain.OpenResult{}, err
	}

	posID := uuid.NewString()
	if req.IdempotencyToken != "" {
		prior, err := s.reserve(ctx, req.OwnerID, req.IdempotencyToken, posID)
		if errors.Is(err, domain.ErrDuplicateIdempotencyToken) {
			s.logger.InfoContext(ctx, "position_service: open deduplicated",
				slog.String("owner", req.OwnerID),
				slog.String("position_id", prior.ID),
			)
			return domain.OpenResult{Position: prior, Duplicate: true}, nil
		}
		if err != nil {
			return domain.OpenResult{}, err
		}
	}

	pos, filled, err := s.execOpen(ctx, posID, req)
	if err != nil {
		// A filled order keeps its token so a retry cannot buy twice.
		if req.IdempotencyToken != "" && !filled {
			if relErr := s.idempotency.Release(ctx, req.OwnerID, req.IdempotencyToken); relErr != nil {
				s.logger.ErrorContext(ctx, "position_service: release idempotency token failed",
					slog.String("owner", req.OwnerID),
					slog.String("error", relErr.Error()),
				)
			}
		}
		return domain.OpenResult{}, err
	}
	return domain.OpenResult{Position: pos}, nil
}

// reserve claims the idempotency token for posID. When another request owns
// the token it waits briefly for that request's position and returns it
// with ErrDuplicateIdempotencyToken.
func (s *PositionService) reserve(ctx context.Context, owner, token, posID string) (domain.Position, error) {
	for attempt := 0; attempt < openWaitAttempts; attempt++ {
		existing, created, err := s.idempotency.Reserve(ctx, owner, token, posID)
		switch {
		case err == nil && created:
			return domain.Position{}, nil
		case err == nil:
			prior, getErr := s.positions.GetByID(ctx, existing)
			if getErr == nil {
				return prior, domain.ErrDuplicateIdempotencyToken
			}
			if !errors.Is(getErr, domain.ErrNotFound) {
				return domain.Position{}, fmt.Errorf("position_service: load prior position: %w", getErr)
			}
		case errors.Is(err, domain.ErrOpenInProgress):
		default:
			return domain.Position{}, fmt.Errorf("position_service: reserve token: %w", err)
		}

		select {
		case <-ctx.Done():
			return domain.Position{}, ctx.Err()
		case <-time.After(openWaitInterval):
		}
	}
	return domain.Position{}, domain.ErrOpenInProgress
}

// execOpen places the buy and persists the position. filled reports whether
// the exchange executed the order, which is true even when persisting fails.
func (s *PositionService) execOpen(ctx context.Context, posID string, req domain.OpenRequest) (_ domain.Position, filled bool, _ error) {
	adapter, err := s.adapters.For(req.Mode)
	if err != nil {
		return domain.Position{}, false, err
	}

	fill, err := adapter.PlaceOpen(ctx, req.OwnerID, req.Symbol, req.Notional)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("position_service: place open: %w", err)
	}
	if fill.Quantity <= 0 || fill.AvgPrice <= 0 {
		return domain.Position{}, false, fmt.Errorf("position_service: empty fill for %s: %w", req.Symbol, domain.ErrUpstreamRejected)
	}

	now := s.now()
	tp, peak := trailing.InitialTakeProfit(req.TakeProfit.Mode, fill.AvgPrice, req.TakeProfit.Percent)
	step := 0.0
	if req.TakeProfit.Mode == domain.TakeProfitTrailing {
		step = req.TakeProfit.StepPercent
	}

	pos := domain.Position{
		ID:                posID,
		OwnerID:           req.OwnerID,
		Symbol:            req.Symbol,
		Mode:              req.Mode,
		EntryPrice:        fill.AvgPrice,
		Quantity:          fill.Quantity,
		Notional:          req.Notional,
		TakeProfitMode:    req.TakeProfit.Mode,
		TakeProfitPercent: req.TakeProfit.Percent,
		StepPercent:       step,
		PeakPrice:         peak,
		TakeProfitPrice:   tp,
		LastPrice:         fill.AvgPrice,
		Status:            domain.PositionActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	rec := domain.OpenRecord{
		Position: pos,
		Trade: domain.Trade{
			ID:         uuid.NewString(),
			OwnerID:    pos.OwnerID,
			PositionID: pos.ID,
			Side:       domain.SideBuy,
			Price:      fill.AvgPrice,
			Quantity:   fill.Quantity,
			Notional:   fill.Notional(),
			Fee:        fill.Fee,
			Mode:       pos.Mode,
			OrderID:    fill.OrderID,
			CreatedAt:  now,
		},
		Audit: domain.AuditEntry{
			CreatedAt:  now,
			OwnerID:    pos.OwnerID,
			Scope:      domain.ScopeAPI,
			Action:     domain.ActionPositionOpened,
			PositionID: pos.ID,
			Payload: map[string]any{
				"symbol":      pos.Symbol,
				"mode":        string(pos.Mode),
				"entry_price": pos.EntryPrice,
				"quantity":    pos.Quantity,
				"notional":    pos.Notional,
				"tp_mode":     string(pos.TakeProfitMode),
				"take_profit": pos.TakeProfitPrice,
				"order_id":    fill.OrderID,
			},
		},
	}

	if err := s.positions.Open(ctx, rec); err != nil {
		// The order is already filled at this point; the order id is the
		// reconciliation handle.
		s.logger.ErrorContext(ctx, "position_service: persist opened position failed",
			slog.String("position_id", pos.ID),
			slog.String("order_id", fill.OrderID),
			slog.String("idempotency_token", req.IdempotencyToken),
			slog.String("error", err.Error()),
		)
		return domain.Position{}, true, fmt.Errorf("position_service: persist position: %w", err)
	}

	s.publish(ctx, domain.EventPositionOpened, pos, map[string]any{
		"entry_price": pos.EntryPrice,
		"quantity":    pos.Quantity,
		"take_profit": pos.TakeProfitPrice,
	})
	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("owner", pos.OwnerID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("take_profit", pos.TakeProfitPrice),
	)
	return pos, true, nil
}

// normalize validates req and fills defaults from the owner's settings.
func (s *PositionService) normalize(ctx context.Context, req domain.OpenRequest) (domain.OpenRequest, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.IdempotencyToken = strings.TrimSpace(req.IdempotencyToken)

	if s.settings != nil && req.OwnerID != "" &&
		(req.Mode == "" || req.TakeProfit.Percent == 0 || req.TakeProfit.StepPercent == 0) {
		us, err := s.settings.GetSettings(ctx, req.OwnerID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return req, fmt.Errorf("position_service: load settings: %w", err)
		}
		if req.Mode == "" {
			req.Mode = us.DefaultMode
		}
		if req.TakeProfit.Percent == 0 {
			req.TakeProfit.Percent = us.DefaultTakeProfitPercent
		}
		if req.TakeProfit.StepPercent == 0 {
			req.TakeProfit.StepPercent = us.DefaultStepPercent
		}
	}
	if req.Mode == "" {
		req.Mode = domain.ModeSimulated
	}
	if req.TakeProfit.Mode == domain.TakeProfitTrailing && req.TakeProfit.StepPercent <= 0 {
		req.TakeProfit.StepPercent = s.defaultStep
	}

	var problems []string
	if req.OwnerID == "" {
		problems = append(problems, "owner_id is required")
	}
	if req.Symbol == "" {
		problems = append(problems, "symbol is required")
	}
	if !req.Mode.Valid() {
		problems = append(problems, fmt.Sprintf("unknown mode %q", req.Mode))
	}
	if req.Notional <= 0 {
		problems = append(problems, "notional must be positive")
	}
	if !req.TakeProfit.Mode.Valid() {
		problems = append(problems, fmt.Sprintf("unknown take-profit mode %q", req.TakeProfit.Mode))
	}
	if req.TakeProfit.Percent <= 0 || req.TakeProfit.Percent > 1 {
		problems = append(problems, "take-profit percent must be in (0, 1]")
	}
	if req.TakeProfit.StepPercent < 0 || req.TakeProfit.StepPercent >= 1 {
		problems = append(problems, "step percent must be in [0, 1)")
	}
	if len(problems) > 0 {
		return req, fmt.Errorf("%w: %s", domain.ErrInvalidPosition, strings.Join(problems, "; "))
	}
	return req, nil
}

// ManualClose sells an ACTIVE position on the owner's request.
func (s *PositionService) ManualClose(ctx context.Context, id string) (domain.Position, error) {
	return s.closePosition(ctx, id, domain.ScopeAPI, "manual")
}

// CloseTriggered sells a position whose take-profit was crossed.
func (s *PositionService) CloseTriggered(ctx context.Context, id string) (domain.Position, error) {
	return s.closePosition(ctx, id, domain.ScopeEngine, "take_profit")
}

// closePosition is the one close routine shared by the engine and manual
// closes. The guarded store update guarantees at most one SELL per position.
func (s *PositionService) closePosition(ctx context.Context, id string, scope domain.AuditScope, reason string) (domain.Position, error) {
	unlock, err := s.locks.Acquire(ctx, closeLockKey(id), s.closeLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Position{}, fmt.Errorf("position_service: close %s in progress: %w", id, domain.ErrAlreadyClosed)
		}
		return domain.Position{}, fmt.Errorf("position_service: acquire close lock: %w", err)
	}
	defer unlock()

	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position %s: %w", id, err)
	}
	switch pos.Status {
	case domain.PositionActive:
	case domain.PositionClosed:
		return domain.Position{}, domain.ErrAlreadyClosed
	default:
		return domain.Position{}, fmt.Errorf("position_service: position %s is %s: %w", id, pos.Status, domain.ErrNotActive)
	}

	adapter, err := s.adapters.For(pos.Mode)
	if err != nil {
		return domain.Position{}, err
	}
	fill, err := adapter.PlaceClose(ctx, pos.OwnerID, pos.Symbol, pos.Quantity)
	if err != nil {
		s.recordCloseFailure(ctx, pos, scope, reason, err)
		return domain.Position{}, fmt.Errorf("position_service: place close: %w", err)
	}

	now := s.now()
	pnl := trailing.RealizedPnL(pos.EntryPrice, fill.AvgPrice, pos.Notional, fill.Fee)
	rec := domain.CloseRecord{
		PositionID:  pos.ID,
		SellPrice:   fill.AvgPrice,
		RealizedPnL: pnl,
		ClosedAt:    now,
		Trade: domain.Trade{
			ID:          uuid.NewString(),
			OwnerID:     pos.OwnerID,
			PositionID:  pos.ID,
			Side:        domain.SideSell,
			Price:       fill.AvgPrice,
			Quantity:    fill.Quantity,
			Notional:    fill.Notional(),
			Fee:         fill.Fee,
			RealizedPnL: &pnl,
			Mode:        pos.Mode,
			OrderID:     fill.OrderID,
			CreatedAt:   now,
		},
		Audit: domain.AuditEntry{
			CreatedAt:  now,
			OwnerID:    pos.OwnerID,
			Scope:      scope,
			Action:     domain.ActionPositionClosed,
			PositionID: pos.ID,
			Payload: map[string]any{
				"reason":       reason,
				"sell_price":   fill.AvgPrice,
				"take_profit":  pos.TakeProfitPrice,
				"realized_pnl": pnl,
				"fee":          fill.Fee,
				"order_id":     fill.OrderID,
			},
		},
	}
	if err := s.positions.Close(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) {
			s.logger.ErrorContext(ctx, "position_service: position left ACTIVE during close",
				slog.String("position_id", pos.ID),
				slog.String("order_id", fill.OrderID),
			)
			return domain.Position{}, err
		}
		return domain.Position{}, fmt.Errorf("position_service: persist close: %w", err)
	}

	pos.Status = domain.PositionClosed
	pos.SellPrice = &rec.SellPrice
	pos.RealizedPnL = &pnl
	pos.LastPrice = fill.AvgPrice
	pos.UnrealizedPnL = 0
	pos.ClosedAt = &now
	pos.UpdatedAt = now

	s.publish(ctx, domain.EventPositionClosed, pos, map[string]any{
		"reason":       reason,
		"sell_price":   fill.AvgPrice,
		"realized_pnl": pnl,
	})
	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", reason),
		slog.Float64("sell_price", fill.AvgPrice),
		slog.Float64("realized_pnl", pnl),
	)
	return pos, nil
}

func (s *PositionService) recordCloseFailure(ctx context.Context, pos domain.Position, scope domain.AuditScope, reason string, cause error) {
	s.logger.WarnContext(ctx, "position_service: close failed, position stays active",
		slog.String("position_id", pos.ID),
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	entry := domain.AuditEntry{
		CreatedAt:  s.now(),
		OwnerID:    pos.OwnerID,
		Scope:      scope,
		Action:     domain.ActionCloseFailed,
		PositionID: pos.ID,
		Payload:    map[string]any{"reason": reason, "error": cause.Error()},
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "position_service: audit close failure",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	s.publish(ctx, domain.EventCloseFailed, pos, map[string]any{"reason": reason, "error": cause.Error()})
}

// Pause stops monitoring an ACTIVE position until it is resumed.
func (s *PositionService) Pause(ctx context.Context, id string) (domain.Position, error) {
	return s.transition(ctx, id, []domain.PositionStatus{domain.PositionActive}, domain.PositionPaused, domain.ActionPositionPaused)
}

// Resume returns a PAUSED position to monitoring.
func (s *PositionService) Resume(ctx context.Context, id string) (domain.Position, error) {
	return s.transition(ctx, id, []domain.PositionStatus{domain.PositionPaused}, domain.PositionActive, domain.ActionPositionResumed)
}

// Stop ends monitoring of an ACTIVE or PAUSED position without selling.
func (s *PositionService) Stop(ctx context.Context, id string) (domain.Position, error) {
	return s.transition(ctx, id,
		[]domain.PositionStatus{domain.PositionActive, domain.PositionPaused},
		domain.PositionStopped, domain.ActionPositionStopped)
}

// transition holds the close lock so a status change never lands between a
// close order and its guarded update.
func (s *PositionService) transition(ctx context.Context, id string, from []domain.PositionStatus, to domain.PositionStatus, action string) (domain.Position, error) {
	unlock, err := s.locks.Acquire(ctx, closeLockKey(id), s.closeLockTTL)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: %s %s: %w", strings.ToLower(string(to)), id, err)
	}
	defer unlock()

	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position %s: %w", id, err)
	}
	entry := domain.AuditEntry{
		CreatedAt:  s.now(),
		OwnerID:    pos.OwnerID,
		Scope:      domain.ScopeAPI,
		Action:     action,
		PositionID: id,
		Payload:    map[string]any{"from": string(pos.Status), "to": string(to)},
	}
	if err := s.positions.SetStatus(ctx, id, from, to, entry); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: %s -> %s: %w", pos.Status, to, err)
	}

	s.logger.InfoContext(ctx, "position_service: status changed",
		slog.String("position_id", id),
		slog.String("from", string(pos.Status)),
		slog.String("to", string(to)),
	)
	return s.positions.GetByID(ctx, id)
}

// Get returns a position by id.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	return s.positions.GetByID(ctx, id)
}

// List returns an owner's positions.
func (s *PositionService) List(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list for %q: %w", ownerID, err)
	}
	return positions, nil
}

// Trades returns the BUY and SELL trades of a position.
func (s *PositionService) Trades(ctx context.Context, id string) ([]domain.Trade, error) {
	if _, err := s.positions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.trades.ListByPosition(ctx, id)
}

func (s *PositionService) publish(ctx context.Context, typ domain.EventType, pos domain.Position, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, domain.Event{
		Type:       typ,
		OwnerID:    pos.OwnerID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Payload:    payload,
		At:         s.now(),
	})
}

func closeLockKey(id string) string {
	return "close:" + id
}
