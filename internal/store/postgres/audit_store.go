package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append writes a standalone audit entry. Entries tied to a position
// mutation are written by PositionStore in the same transaction.
func (s *AuditStore) Append(ctx context.Context, e domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := insertAudit(ctx, s.pool, e); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

const auditSelectCols = `id, created_at, COALESCE(owner_id, ''), scope, action, COALESCE(position_id, ''), payload`

func scanAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()
	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var scope string
		var payload []byte

		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.OwnerID, &scope, &e.Action, &e.PositionID, &payload); err != nil {
			return nil, err
		}
		e.Scope = domain.AuditScope(scope)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload for entry %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns audit entries newest first. An empty ownerID lists every
// owner including system entries.
func (s *AuditStore) List(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	base := `SELECT ` + auditSelectCols + ` FROM audit_log WHERE 1=1`
	var args []any
	if ownerID != "" {
		base += ` AND owner_id = $1`
		args = append(args, ownerID)
	}
	query, args := applyListOpts(base, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := scanAudit(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
	}
	return entries, nil
}

// ListBefore returns entries created strictly before the cutoff, oldest first.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	query := `SELECT ` + auditSelectCols + ` FROM audit_log WHERE created_at < $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit before %s: %w", before.Format(time.RFC3339), err)
	}
	entries, err := scanAudit(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
