package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	fail    error
}

func newMemWriter() *memWriter { return &memWriter{objects: make(map[string][]byte)} }

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.fail != nil {
		return w.fail
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = b
	w.puts++
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, jsonlContentType)
}

type fakeTrades struct {
	domain.TradeStore
	rows []domain.Trade
}

func (f *fakeTrades) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.rows {
		if t.CreatedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAudit) Append(_ context.Context, e domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range f.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countLines(t *testing.T, b []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		n++
	}
	return n
}

func TestArchiveTradesGroupsByMonth(t *testing.T) {
	trades := &fakeTrades{rows: []domain.Trade{
		{ID: "t1", Side: domain.SideBuy, CreatedAt: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{ID: "t2", Side: domain.SideSell, CreatedAt: time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)},
		{ID: "t3", Side: domain.SideBuy, CreatedAt: time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "t4", Side: domain.SideBuy, CreatedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
	}}
	audit := &fakeAudit{}
	w := newMemWriter()
	a := NewArchiver(w, trades, audit, testLogger())

	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.Len(t, w.objects, 2)
	assert.Equal(t, 2, countLines(t, w.objects["archive/trades/2024-01.jsonl"]))
	assert.Equal(t, 1, countLines(t, w.objects["archive/trades/2024-02.jsonl"]))

	require.Len(t, audit.entries, 1)
	e := audit.entries[0]
	assert.Equal(t, domain.ScopeSystem, e.Scope)
	assert.Equal(t, domain.ActionArchiveCompleted, e.Action)
	assert.Equal(t, "trades", e.Payload["kind"])
	assert.Equal(t, int64(3), e.Payload["count"])

	// A second run rewrites the same objects.
	n, err = a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Len(t, w.objects, 2)
	assert.Equal(t, 4, w.puts)
}

func TestArchiveNothingToDo(t *testing.T) {
	audit := &fakeAudit{}
	w := newMemWriter()
	a := NewArchiver(w, &fakeTrades{}, audit, testLogger())

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
	assert.Empty(t, audit.entries)
}

func TestArchiveAuditUploadFailure(t *testing.T) {
	audit := &fakeAudit{entries: []domain.AuditEntry{
		{ID: 1, Scope: domain.ScopeAPI, Action: domain.ActionPositionOpened, CreatedAt: time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)},
	}}
	w := newMemWriter()
	w.fail = errors.New("bucket gone")
	a := NewArchiver(w, &fakeTrades{}, audit, testLogger())

	_, err := a.ArchiveAudit(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive/audit/2023-12.jsonl")
	assert.Len(t, audit.entries, 1)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://minio:9000", withScheme("minio:9000", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", withScheme("http://localhost:9000", true))
}
