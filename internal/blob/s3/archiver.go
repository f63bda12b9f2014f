package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// Archiver implements domain.Archiver. Rows older than the cutoff are
// grouped by the UTC month they were created in and each month is written
// whole to archive/<kind>/YYYY-MM.jsonl, so repeated runs rewrite the same
// objects. Rows are not removed from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// ArchiveTrades exports trades created before the cutoff.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list trades: %w", err)
	}
	months := groupByMonth(trades, func(t domain.Trade) time.Time { return t.CreatedAt })
	return a.export(ctx, "trades", before, months)
}

// ArchiveAudit exports audit entries created before the cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list audit: %w", err)
	}
	months := groupByMonth(entries, func(e domain.AuditEntry) time.Time { return e.CreatedAt })
	return a.export(ctx, "audit", before, months)
}

func (a *Archiver) export(ctx context.Context, kind string, before time.Time, months map[string][]any) (int64, error) {
	if len(months) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(months))
	for m := range months {
		keys = append(keys, m)
	}
	sort.Strings(keys)

	var count int64
	paths := make([]string, 0, len(keys))
	for _, month := range keys {
		rows := months[month]
		buf, err := marshalJSONL(rows)
		if err != nil {
			return count, fmt.Errorf("s3blob: encode %s %s: %w", kind, month, err)
		}

		path := archivePath(kind, month)
		if int64(len(buf)) > minPartSize {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return count, fmt.Errorf("s3blob: upload %s: %w", path, err)
		}
		count += int64(len(rows))
		paths = append(paths, path)
	}

	if err := a.audit.Append(ctx, domain.AuditEntry{
		CreatedAt: a.now().UTC(),
		Scope:     domain.ScopeSystem,
		Action:    domain.ActionArchiveCompleted,
		Payload: map[string]any{
			"kind":   kind,
			"count":  count,
			"files":  paths,
			"before": before.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return count, fmt.Errorf("s3blob: record %s archive: %w", kind, err)
	}

	a.logger.InfoContext(ctx, "archive written",
		slog.String("kind", kind),
		slog.Int64("count", count),
		slog.Int("files", len(paths)),
	)
	return count, nil
}

func groupByMonth[T any](rows []T, at func(T) time.Time) map[string][]any {
	out := make(map[string][]any)
	for _, r := range rows {
		m := at(r).UTC().Format("2006-01")
		out[m] = append(out[m], r)
	}
	return out
}

// archivePath is archive/<kind>/YYYY-MM.jsonl.
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL(records []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
