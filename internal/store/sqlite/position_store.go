package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// PositionStore implements domain.PositionStore on SQLite.
type PositionStore struct {
	db *sql.DB
}

// NewPositionStore creates a PositionStore on the given handle.
func NewPositionStore(db *sql.DB) *PositionStore {
	return &PositionStore{db: db}
}

const positionSelectCols = `id, owner_id, symbol, mode, entry_price, quantity, notional,
	tp_mode, tp_percent, step_percent, peak_price, take_profit_price, last_price,
	status, unrealized_pnl, realized_pnl, sell_price, created_at, updated_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var p domain.Position
	var mode, tpMode, status string
	var created, updated int64
	var closed *int64

	if err := row.Scan(
		&p.ID, &p.OwnerID, &p.Symbol, &mode, &p.EntryPrice, &p.Quantity, &p.Notional,
		&tpMode, &p.TakeProfitPercent, &p.StepPercent, &p.PeakPrice, &p.TakeProfitPrice, &p.LastPrice,
		&status, &p.UnrealizedPnL, &p.RealizedPnL, &p.SellPrice, &created, &updated, &closed,
	); err != nil {
		return domain.Position{}, err
	}
	p.Mode = domain.Mode(mode)
	p.TakeProfitMode = domain.TakeProfitMode(tpMode)
	p.Status = domain.PositionStatus(status)
	p.CreatedAt = fromMs(created)
	p.UpdatedAt = fromMs(updated)
	p.ClosedAt = fromMsPtr(closed)
	return p, nil
}

func (s *PositionStore) query(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
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
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO positions (
				id, owner_id, symbol, mode, entry_price, quantity, notional,
				tp_mode, tp_percent, step_percent, peak_price, take_profit_price, last_price,
				status, unrealized_pnl, realized_pnl, sell_price, created_at, updated_at, closed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query,
			p.ID, p.OwnerID, p.Symbol, string(p.Mode), p.EntryPrice, p.Quantity, p.Notional,
			string(p.TakeProfitMode), p.TakeProfitPercent, p.StepPercent, p.PeakPrice, p.TakeProfitPrice, p.LastPrice,
			string(p.Status), p.UnrealizedPnL, p.RealizedPnL, p.SellPrice,
			toMs(p.CreatedAt), toMs(p.UpdatedAt), toMsPtr(p.ClosedAt),
		); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		if err := insertTrade(ctx, tx, rec.Trade); err != nil {
			return err
		}
		return insertAudit(ctx, tx, rec.Audit)
	})
	if err != nil {
		return fmt.Errorf("sqlite: open position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a single position or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every ACTIVE position.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	out, err := s.query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status = 'ACTIVE' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active positions: %w", err)
	}
	return out, nil
}

// ListByOwner returns an owner's positions, newest first.
func (s *PositionStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := applyListOpts(
		`SELECT `+positionSelectCols+` FROM positions WHERE owner_id = ?`,
		[]any{ownerID}, opts,
	)
	out, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions for %s: %w", ownerID, err)
	}
	return out, nil
}

// ActiveSymbols returns the distinct symbols of ACTIVE positions.
func (s *PositionStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	syms, err := queryStrings(ctx, s.db,
		`SELECT DISTINCT symbol FROM positions WHERE status = 'ACTIVE' ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: active symbols: %w", err)
	}
	return syms, nil
}

// UpdateTracking writes the engine's per-tick state, guarded on ACTIVE.
func (s *PositionStore) UpdateTracking(ctx context.Context, upd domain.TrackingUpdate) error {
	const query = `
		UPDATE positions SET
			last_price = ?, peak_price = ?, take_profit_price = ?, unrealized_pnl = ?, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'`

	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			upd.LastPrice, upd.PeakPrice, upd.TakeProfitPrice, upd.UnrealizedPnL, toMs(upd.UpdatedAt), upd.PositionID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
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
		return fmt.Errorf("sqlite: update tracking %s: %w", upd.PositionID, err)
	}
	return nil
}

// SetStatus moves a position between statuses. Leaving ACTIVE zeroes the
// unrealized P&L.
func (s *PositionStore) SetStatus(ctx context.Context, id string, from []domain.PositionStatus, to domain.PositionStatus, audit domain.AuditEntry) error {
	if len(from) == 0 {
		return domain.ErrInvalidTransition
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	query := `
		UPDATE positions SET
			status = ?,
			unrealized_pnl = CASE WHEN ? = 'ACTIVE' THEN unrealized_pnl ELSE 0 END,
			updated_at = ?
		WHERE id = ? AND status IN (` + placeholders + `)`
	args := []any{string(to), string(to), toMs(audit.CreatedAt), id}
	for _, f := range from {
		args = append(args, string(f))
	}

	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE id = ?`, id).Scan(&count); err != nil {
				return err
			}
			if count == 0 {
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
		return fmt.Errorf("sqlite: set status %s -> %s: %w", id, to, err)
	}
	return nil
}

// Close performs the guarded ACTIVE -> CLOSED transition together with the
// SELL trade and audit entry.
func (s *PositionStore) Close(ctx context.Context, rec domain.CloseRecord) error {
	const query = `
		UPDATE positions SET
			status = 'CLOSED', sell_price = ?, last_price = ?, realized_pnl = ?,
			unrealized_pnl = 0, closed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'`

	closedAt := toMs(rec.ClosedAt)
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			rec.SellPrice, rec.SellPrice, rec.RealizedPnL, closedAt, closedAt, rec.PositionID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
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
		return fmt.Errorf("sqlite: close position %s: %w", rec.PositionID, err)
	}
	return nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ domain.PositionStore = (*PositionStore)(nil)
