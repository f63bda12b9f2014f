package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner_id, symbol, mode, entry_price, quantity, notional,
	tp_mode, tp_percent, step_percent, peak_price, take_profit_price, last_price,
	status, unrealized_pnl, realized_pnl, sell_price, created_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var mode, tpMode, status string

	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Symbol, &mode, &p.EntryPrice, &p.Quantity, &p.Notional,
		&tpMode, &p.TakeProfitPercent, &p.StepPercent, &p.PeakPrice, &p.TakeProfitPrice, &p.LastPrice,
		&status, &p.UnrealizedPnL, &p.RealizedPnL, &p.SellPrice, &p.CreatedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Mode = domain.Mode(mode)
	p.TakeProfitMode = domain.TakeProfitMode(tpMode)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Open inserts the position, its BUY trade and the audit entry atomically.
func (s *PositionStore) Open(ctx context.Context, rec domain.OpenRecord) error {
	p := rec.Position
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO positions (
				id, owner_id, symbol, mode, entry_price, quantity, notional,
				tp_mode, tp_percent, step_percent, peak_price, take_profit_price, last_price,
				status, unrealized_pnl, realized_pnl, sell_price, created_at, updated_at, closed_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18, $19, $20
			)`
		if _, err := tx.Exec(ctx, query,
			p.ID, p.OwnerID, p.Symbol, string(p.Mode), p.EntryPrice, p.Quantity, p.Notional,
			string(p.TakeProfitMode), p.TakeProfitPercent, p.StepPercent, p.PeakPrice, p.TakeProfitPrice, p.LastPrice,
			string(p.Status), p.UnrealizedPnL, p.RealizedPnL, p.SellPrice, p.CreatedAt, p.UpdatedAt, p.ClosedAt,
		); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		if err := insertTrade(ctx, tx, rec.Trade); err != nil {
			return err
		}
		return insertAudit(ctx, tx, rec.Audit)
	})
	if err != nil {
		return fmt.Errorf("postgres: open position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a single position or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every ACTIVE position across all owners.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'ACTIVE' ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return out, nil
}

// ListByOwner returns an owner's positions, newest first.
func (s *PositionStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := applyListOpts(
		`SELECT `+positionSelectCols+` FROM positions WHERE owner_id = $1`,
		[]any{ownerID}, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", ownerID, err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", ownerID, err)
	}
	return out, nil
}

// ActiveSymbols returns the distinct symbols of ACTIVE positions.
func (s *PositionStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM positions WHERE status = 'ACTIVE' ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: active symbols: %w", err)
	}
	syms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active symbols: %w", err)
	}
	return syms, nil
}

// UpdateTracking writes the engine's per-tick state, guarded on ACTIVE.
func (s *PositionStore) UpdateTracking(ctx context.Context, upd domain.TrackingUpdate) error {
	const query = `
		UPDATE positions SET
			last_price        = $2,
			peak_price        = $3,
			take_profit_price = $4,
			unrealized_pnl    = $5,
			updated_at        = $6
		WHERE id = $1 AND status = 'ACTIVE'`

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query,
			upd.PositionID, upd.LastPrice, upd.PeakPrice, upd.TakeProfitPrice, upd.UnrealizedPnL, upd.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotActive
		}
		if upd.Audit != nil {
			return insertAudit(ctx, tx, *upd.Audit)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotActive) {
			return err
		}
		return fmt.Errorf("postgres: update tracking %s: %w", upd.PositionID, err)
	}
	return nil
}

// SetStatus moves a position between statuses. Leaving ACTIVE zeroes the
// unrealized P&L.
func (s *PositionStore) SetStatus(ctx context.Context, id string, from []domain.PositionStatus, to domain.PositionStatus, audit domain.AuditEntry) error {
	fromStr := make([]string, len(from))
	for i, f := range from {
		fromStr[i] = string(f)
	}

	const query = `
		UPDATE positions SET
			status         = $2,
			unrealized_pnl = CASE WHEN $2 = 'ACTIVE' THEN unrealized_pnl ELSE 0 END,
			updated_at     = $3
		WHERE id = $1 AND status = ANY($4)`

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, id, string(to), audit.CreatedAt, fromStr)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrInvalidTransition
		}
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("postgres: set status %s -> %s: %w", id, to, err)
	}
	return nil
}

// Close performs the guarded ACTIVE -> CLOSED transition together with the
// SELL trade and audit entry. A zero-row update means another writer already
// closed the position.
func (s *PositionStore) Close(ctx context.Context, rec domain.CloseRecord) error {
	const query = `
		UPDATE positions SET
			status         = 'CLOSED',
			sell_price     = $2,
			last_price     = $2,
			realized_pnl   = $3,
			unrealized_pnl = 0,
			closed_at      = $4,
			updated_at     = $4
		WHERE id = $1 AND status = 'ACTIVE'`

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, rec.PositionID, rec.SellPrice, rec.RealizedPnL, rec.ClosedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyClosed
		}
		if err := insertTrade(ctx, tx, rec.Trade); err != nil {
			return err
		}
		return insertAudit(ctx, tx, rec.Audit)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) {
			return err
		}
		return fmt.Errorf("postgres: close position %s: %w", rec.PositionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
