package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore on SQLite.
type IdempotencyStore struct {
	db *sql.DB
}

// NewIdempotencyStore creates an IdempotencyStore on the given handle.
func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// Reserve records token -> positionID unless the token is already taken.
func (s *IdempotencyStore) Reserve(ctx context.Context, ownerID, token, positionID string) (string, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (owner_id, token, position_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, token) DO NOTHING`,
		ownerID, token, positionID, toMs(time.Now()),
	)
	if err != nil {
		return "", false, fmt.Errorf("sqlite: reserve idempotency token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", false, fmt.Errorf("sqlite: reserve idempotency token: %w", err)
	} else if n == 1 {
		return positionID, true, nil
	}

	existing, err := s.Lookup(ctx, ownerID, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, domain.ErrOpenInProgress
		}
		return "", false, err
	}
	return existing, false, nil
}

// Release deletes a reservation.
func (s *IdempotencyStore) Release(ctx context.Context, ownerID, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE owner_id = ? AND token = ?`, ownerID, token,
	); err != nil {
		return fmt.Errorf("sqlite: release idempotency token: %w", err)
	}
	return nil
}

// Lookup returns the position id recorded for the token.
func (s *IdempotencyStore) Lookup(ctx context.Context, ownerID, token string) (string, error) {
	var positionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT position_id FROM idempotency_keys WHERE owner_id = ? AND token = ?`, ownerID, token,
	).Scan(&positionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("sqlite: lookup idempotency token: %w", err)
	}
	return positionID, nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
