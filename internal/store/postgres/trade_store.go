package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trades are
// inserted by PositionStore inside the open and close transactions.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, owner_id, position_id, side, price, quantity, notional,
	fee, realized_pnl, mode, order_id, created_at`

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, mode string
		if err := rows.Scan(
			&t.ID, &t.OwnerID, &t.PositionID, &side, &t.Price, &t.Quantity, &t.Notional,
			&t.Fee, &t.RealizedPnL, &mode, &t.OrderID, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		t.Mode = domain.Mode(mode)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByPosition returns a position's trades in execution order.
func (s *TradeStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE position_id = $1 ORDER BY created_at, side`
	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for position %s: %w", positionID, err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListByOwner returns an owner's trades, newest first.
func (s *TradeStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := applyListOpts(
		`SELECT `+tradeSelectCols+` FROM trades WHERE owner_id = $1`,
		[]any{ownerID}, opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", ownerID, err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns every trade created strictly before the cutoff, oldest
// first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE created_at < $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
