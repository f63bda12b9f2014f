package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// AuditStore implements domain.AuditStore on SQLite.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates an AuditStore on the given handle.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append writes a standalone audit entry.
func (s *AuditStore) Append(ctx context.Context, e domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := insertAudit(ctx, s.db, e); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

const auditSelectCols = `id, created_at, owner_id, scope, action, position_id, payload`

func (s *AuditStore) query(ctx context.Context, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var created int64
		var scope, payload string
		if err := rows.Scan(&e.ID, &created, &e.OwnerID, &scope, &e.Action, &e.PositionID, &payload); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMs(created)
		e.Scope = domain.AuditScope(scope)
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload for entry %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// List returns audit entries newest first. An empty ownerID lists all.
func (s *AuditStore) List(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	base := `SELECT ` + auditSelectCols + ` FROM audit_log WHERE 1=1`
	var args []any
	if ownerID != "" {
		base += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query, args := applyListOpts(base, args, opts)
	// Entries written in the same millisecond keep insertion order.
	query = strings.Replace(query, " ORDER BY created_at DESC", " ORDER BY created_at DESC, id DESC", 1)

	out, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	return out, nil
}

// ListBefore returns entries created strictly before the cutoff, oldest first.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	out, err := s.query(ctx,
		`SELECT `+auditSelectCols+` FROM audit_log WHERE created_at < ? ORDER BY id`, toMs(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit before: %w", err)
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
