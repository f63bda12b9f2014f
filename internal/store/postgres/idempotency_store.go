package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore using PostgreSQL. The
// (owner_id, token) primary key makes Reserve atomic across processes.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore creates a new IdempotencyStore backed by the given pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Reserve records token -> positionID unless the token is already taken.
func (s *IdempotencyStore) Reserve(ctx context.Context, ownerID, token, positionID string) (string, bool, error) {
	const insert = `
		INSERT INTO idempotency_keys (owner_id, token, position_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, token) DO NOTHING`

	tag, err := s.pool.Exec(ctx, insert, ownerID, token, positionID)
	if err != nil {
		return "", false, fmt.Errorf("postgres: reserve idempotency token: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return positionID, true, nil
	}

	existing, err := s.Lookup(ctx, ownerID, token)
	if err != nil {
		// Released between the insert and the lookup; the caller retries.
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, domain.ErrOpenInProgress
		}
		return "", false, err
	}
	return existing, false, nil
}

// Release deletes a reservation.
func (s *IdempotencyStore) Release(ctx context.Context, ownerID, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE owner_id = $1 AND token = $2`, ownerID, token)
	if err != nil {
		return fmt.Errorf("postgres: release idempotency token: %w", err)
	}
	return nil
}

// Lookup returns the position id recorded for the token.
func (s *IdempotencyStore) Lookup(ctx context.Context, ownerID, token string) (string, error) {
	var positionID string
	err := s.pool.QueryRow(ctx,
		`SELECT position_id FROM idempotency_keys WHERE owner_id = $1 AND token = $2`, ownerID, token,
	).Scan(&positionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: lookup idempotency token: %w", err)
	}
	return positionID, nil
}

// Compile-time interface check.
var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
