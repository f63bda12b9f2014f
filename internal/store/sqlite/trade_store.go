package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// TradeStore implements domain.TradeStore on SQLite.
type TradeStore struct {
	db *sql.DB
}

// NewTradeStore creates a TradeStore on the given handle.
func NewTradeStore(db *sql.DB) *TradeStore {
	return &TradeStore{db: db}
}

const tradeSelectCols = `id, owner_id, position_id, side, price, quantity, notional,
	fee, realized_pnl, mode, order_id, created_at`

func (s *TradeStore) query(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, mode string
		var created int64
		if err := rows.Scan(
			&t.ID, &t.OwnerID, &t.PositionID, &side, &t.Price, &t.Quantity, &t.Notional,
			&t.Fee, &t.RealizedPnL, &mode, &t.OrderID, &created,
		); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		t.Mode = domain.Mode(mode)
		t.CreatedAt = fromMs(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByPosition returns a position's trades in execution order.
func (s *TradeStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Trade, error) {
	out, err := s.query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE position_id = ? ORDER BY created_at, side`, positionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades for position %s: %w", positionID, err)
	}
	return out, nil
}

// ListByOwner returns an owner's trades, newest first.
func (s *TradeStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := applyListOpts(`SELECT `+tradeSelectCols+` FROM trades WHERE owner_id = ?`, []any{ownerID}, opts)
	out, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades for %s: %w", ownerID, err)
	}
	return out, nil
}

// ListBefore returns trades created strictly before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	out, err := s.query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE created_at < ? ORDER BY created_at`, toMs(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades before: %w", err)
	}
	return out, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
