package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "trailbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func openRecord(id, owner, symbol string, at time.Time) domain.OpenRecord {
	peak := 100.0
	return domain.OpenRecord{
		Position: domain.Position{
			ID: id, OwnerID: owner, Symbol: symbol, Mode: domain.ModeSimulated,
			EntryPrice: 100, Quantity: 10, Notional: 1000,
			TakeProfitMode: domain.TakeProfitTrailing, TakeProfitPercent: 0.05, StepPercent: 0.005,
			PeakPrice: &peak, TakeProfitPrice: 95, LastPrice: 100,
			Status: domain.PositionActive, CreatedAt: at, UpdatedAt: at,
		},
		Trade: domain.Trade{
			ID: id + "-buy", OwnerID: owner, PositionID: id, Side: domain.SideBuy,
			Price: 100, Quantity: 10, Notional: 1000, Fee: 1, Mode: domain.ModeSimulated,
			OrderID: "sim-1", CreatedAt: at,
		},
		Audit: domain.AuditEntry{
			CreatedAt: at, OwnerID: owner, Scope: domain.ScopeAPI,
			Action: domain.ActionPositionOpened, PositionID: id,
			Payload: map[string]any{"symbol": symbol},
		},
	}
}

func closeRecord(id, owner string, at time.Time) domain.CloseRecord {
	pnl := 40.0
	return domain.CloseRecord{
		PositionID: id, SellPrice: 104, RealizedPnL: pnl, ClosedAt: at,
		Trade: domain.Trade{
			ID: id + "-sell", OwnerID: owner, PositionID: id, Side: domain.SideSell,
			Price: 104, Quantity: 10, Notional: 1040, RealizedPnL: &pnl,
			Mode: domain.ModeSimulated, OrderID: "sim-2", CreatedAt: at,
		},
		Audit: domain.AuditEntry{
			CreatedAt: at, OwnerID: owner, Scope: domain.ScopeEngine,
			Action: domain.ActionPositionClosed, PositionID: id,
		},
	}
}

func TestPositionOpenAndRead(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	positions := NewPositionStore(db)
	now := time.UnixMilli(1_700_000_000_000).UTC()

	require.NoError(t, positions.Open(ctx, openRecord("p1", "alice", "BTCUSDT", now)))
	require.NoError(t, positions.Open(ctx, openRecord("p2", "bob", "ETHUSDT", now.Add(time.Second))))

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, domain.PositionActive, got.Status)
	require.NotNil(t, got.PeakPrice)
	assert.Equal(t, 100.0, *got.PeakPrice)
	assert.Nil(t, got.ClosedAt)
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = positions.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	active, err := positions.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	syms, err := positions.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, syms)

	mine, err := positions.ListByOwner(ctx, "alice", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "p1", mine[0].ID)

	trades, err := NewTradeStore(db).ListByPosition(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Nil(t, trades[0].RealizedPnL)
}

func TestCloseIsGuardedOnActive(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	positions := NewPositionStore(db)
	now := time.Now().UTC()

	require.NoError(t, positions.Open(ctx, openRecord("p1", "alice", "BTCUSDT", now)))
	require.NoError(t, positions.Close(ctx, closeRecord("p1", "alice", now)))

	second := closeRecord("p1", "alice", now)
	second.Trade.ID = "p1-sell-2"
	assert.ErrorIs(t, positions.Close(ctx, second), domain.ErrAlreadyClosed)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, got.Status)
	require.NotNil(t, got.SellPrice)
	assert.Equal(t, 104.0, *got.SellPrice)
	require.NotNil(t, got.RealizedPnL)
	assert.Equal(t, 40.0, *got.RealizedPnL)
	assert.Zero(t, got.UnrealizedPnL)
	require.NotNil(t, got.ClosedAt)

	trades, err := NewTradeStore(db).ListByPosition(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.SideSell, trades[1].Side)

	err = positions.UpdateTracking(ctx, domain.TrackingUpdate{PositionID: "p1", LastPrice: 1, UpdatedAt: now})
	assert.ErrorIs(t, err, domain.ErrNotActive)

	syms, err := positions.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestUpdateTrackingWritesAudit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	positions := NewPositionStore(db)
	now := time.Now().UTC()
	require.NoError(t, positions.Open(ctx, openRecord("p1", "alice", "BTCUSDT", now)))

	peak := 110.0
	err := positions.UpdateTracking(ctx, domain.TrackingUpdate{
		PositionID: "p1", LastPrice: 110, PeakPrice: &peak, TakeProfitPrice: 104.5,
		UnrealizedPnL: 100, UpdatedAt: now,
		Audit: &domain.AuditEntry{
			CreatedAt: now, OwnerID: "alice", Scope: domain.ScopeEngine,
			Action: domain.ActionTakeProfitMoved, PositionID: "p1",
			Payload: map[string]any{"take_profit": 104.5},
		},
	})
	require.NoError(t, err)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 104.5, got.TakeProfitPrice)
	assert.Equal(t, 110.0, *got.PeakPrice)

	entries, err := NewAuditStore(db).List(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActionTakeProfitMoved, entries[0].Action)
	assert.Equal(t, 104.5, entries[0].Payload["take_profit"])
}

func TestSetStatusTransitions(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	positions := NewPositionStore(db)
	now := time.Now().UTC()
	require.NoError(t, positions.Open(ctx, openRecord("p1", "alice", "BTCUSDT", now)))

	audit := domain.AuditEntry{CreatedAt: now, OwnerID: "alice", Scope: domain.ScopeAPI, Action: domain.ActionPositionPaused, PositionID: "p1"}
	active := []domain.PositionStatus{domain.PositionActive}

	require.NoError(t, positions.SetStatus(ctx, "p1", active, domain.PositionPaused, audit))
	assert.ErrorIs(t, positions.SetStatus(ctx, "p1", active, domain.PositionPaused, audit), domain.ErrInvalidTransition)
	assert.ErrorIs(t, positions.SetStatus(ctx, "nope", active, domain.PositionPaused, audit), domain.ErrNotFound)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionPaused, got.Status)

	// A paused position cannot be closed by the engine.
	assert.ErrorIs(t, positions.Close(ctx, closeRecord("p1", "alice", now)), domain.ErrAlreadyClosed)
}

func TestIdempotencyReserve(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore(openTestDB(t))

	id, created, err := store.Reserve(ctx, "alice", "tok", "p1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "p1", id)

	id, created, err = store.Reserve(ctx, "alice", "tok", "p2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "p1", id)

	// Tokens are scoped per owner.
	_, created, err = store.Reserve(ctx, "bob", "tok", "p3")
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, store.Release(ctx, "alice", "tok"))
	_, err = store.Lookup(ctx, "alice", "tok")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, created, err = store.Reserve(ctx, "alice", "tok", "p4")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSnapshotUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore(openTestDB(t))

	_, err := store.Get(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	now := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, store.Save(ctx, domain.PortfolioSnapshot{
		OwnerID: "alice", QuoteAsset: "USDT", Valuation: 150,
		Balances: map[string]float64{"USDT": 100, "BTC": 0.001}, SyncedAt: now,
	}))
	require.NoError(t, store.Save(ctx, domain.PortfolioSnapshot{
		OwnerID: "alice", QuoteAsset: "USDT", Valuation: 200,
		Balances: map[string]float64{"USDT": 200}, Skipped: []string{"XYZ"}, SyncedAt: now.Add(time.Minute),
	}))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.Valuation)
	assert.Equal(t, map[string]float64{"USDT": 200}, got.Balances)
	assert.Equal(t, []string{"XYZ"}, got.Skipped)
	assert.True(t, got.SyncedAt.Equal(now.Add(time.Minute)))
}

func TestAccountSettingsAndCredentials(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(openTestDB(t))
	now := time.Now().UTC()

	_, err := store.GetSettings(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	fee := 7.5
	require.NoError(t, store.SaveSettings(ctx, domain.UserSettings{OwnerID: "alice", DisplaySymbol: "BTCUSDT", FeeRateBps: &fee, UpdatedAt: now}))
	require.NoError(t, store.SaveSettings(ctx, domain.UserSettings{OwnerID: "bob", DisplaySymbol: "BTCUSDT", UpdatedAt: now}))
	require.NoError(t, store.SaveSettings(ctx, domain.UserSettings{OwnerID: "carol", UpdatedAt: now}))

	us, err := store.GetSettings(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, us.FeeRateBps)
	assert.Equal(t, 7.5, *us.FeeRateBps)
	assert.Equal(t, domain.ModeSimulated, us.DefaultMode)

	syms, err := store.DisplaySymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, syms)

	_, err = store.GetCredentials(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)

	require.NoError(t, store.SaveCredentials(ctx, domain.EncryptedCredentials{OwnerID: "alice", APIKey: "k", APISecretEnc: "ENC[v1]:x", UpdatedAt: now}))
	creds, err := store.GetCredentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "ENC[v1]:x", creds.APISecretEnc)

	owners, err := store.LinkedOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, owners)
}

func TestAuditListBefore(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(openTestDB(t))
	old := time.Now().Add(-48 * time.Hour).UTC()

	require.NoError(t, store.Append(ctx, domain.AuditEntry{CreatedAt: old, Scope: domain.ScopeSystem, Action: domain.ActionArchiveCompleted}))
	require.NoError(t, store.Append(ctx, domain.AuditEntry{Scope: domain.ScopeSystem, Action: domain.ActionArchiveCompleted}))

	entries, err := store.ListBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].OwnerID)

	all, err := store.List(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
