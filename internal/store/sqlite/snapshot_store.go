package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore on SQLite.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a SnapshotStore on the given handle.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save upserts the owner's latest snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.PortfolioSnapshot) error {
	balances, err := json.Marshal(snap.Balances)
	if err != nil {
		return fmt.Errorf("sqlite: marshal balances: %w", err)
	}
	skipped := snap.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return fmt.Errorf("sqlite: marshal skipped: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (owner_id, quote_asset, valuation, balances, skipped, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			quote_asset = excluded.quote_asset,
			valuation   = excluded.valuation,
			balances    = excluded.balances,
			skipped     = excluded.skipped,
			synced_at   = excluded.synced_at`,
		snap.OwnerID, snap.QuoteAsset, snap.Valuation, string(balances), string(skippedJSON), toMs(snap.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot for %s: %w", snap.OwnerID, err)
	}
	return nil
}

// Get returns the owner's latest snapshot or domain.ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, ownerID string) (domain.PortfolioSnapshot, error) {
	var snap domain.PortfolioSnapshot
	var balances, skipped string
	var synced int64
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, quote_asset, valuation, balances, skipped, synced_at
		FROM portfolio_snapshots WHERE owner_id = ?`, ownerID,
	).Scan(&snap.OwnerID, &snap.QuoteAsset, &snap.Valuation, &balances, &skipped, &synced)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PortfolioSnapshot{}, domain.ErrNotFound
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: get snapshot for %s: %w", ownerID, err)
	}
	snap.SyncedAt = fromMs(synced)
	if err := json.Unmarshal([]byte(balances), &snap.Balances); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: unmarshal balances: %w", err)
	}
	if err := json.Unmarshal([]byte(skipped), &snap.Skipped); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: unmarshal skipped: %w", err)
	}
	return snap, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
