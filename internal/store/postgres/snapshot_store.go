package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Only the
// latest snapshot per owner is kept.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save upserts the owner's snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.PortfolioSnapshot) error {
	balances, err := json.Marshal(snap.Balances)
	if err != nil {
		return fmt.Errorf("postgres: marshal balances: %w", err)
	}
	skipped := snap.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return fmt.Errorf("postgres: marshal skipped: %w", err)
	}

	const query = `
		INSERT INTO portfolio_snapshots (owner_id, quote_asset, valuation, balances, skipped, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE SET
			quote_asset = EXCLUDED.quote_asset,
			valuation   = EXCLUDED.valuation,
			balances    = EXCLUDED.balances,
			skipped     = EXCLUDED.skipped,
			synced_at   = EXCLUDED.synced_at`

	if _, err := s.pool.Exec(ctx, query,
		snap.OwnerID, snap.QuoteAsset, snap.Valuation, balances, skippedJSON, snap.SyncedAt,
	); err != nil {
		return fmt.Errorf("postgres: save snapshot for %s: %w", snap.OwnerID, err)
	}
	return nil
}

// Get returns the owner's latest snapshot or domain.ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, ownerID string) (domain.PortfolioSnapshot, error) {
	const query = `
		SELECT owner_id, quote_asset, valuation, balances, skipped, synced_at
		FROM portfolio_snapshots WHERE owner_id = $1`

	var snap domain.PortfolioSnapshot
	var balances, skipped []byte
	err := s.pool.QueryRow(ctx, query, ownerID).Scan(
		&snap.OwnerID, &snap.QuoteAsset, &snap.Valuation, &balances, &skipped, &snap.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PortfolioSnapshot{}, domain.ErrNotFound
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: get snapshot for %s: %w", ownerID, err)
	}
	if err := json.Unmarshal(balances, &snap.Balances); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: unmarshal balances: %w", err)
	}
	if err := json.Unmarshal(skipped, &snap.Skipped); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: unmarshal skipped: %w", err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
