package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/crypto"
	"github.com/alanyoungcy/trailbot/internal/domain"
	"github.com/alanyoungcy/trailbot/internal/pricing"
)

type fakeFetcher struct {
	mu       sync.Mutex
	balances map[string][]domain.AssetBalance
	fail     map[string]error
	calls    []string
}

func (f *fakeFetcher) Balances(_ context.Context, creds domain.Credentials) ([]domain.AssetBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, creds.APIKey)
	if err := f.fail[creds.APIKey]; err != nil {
		return nil, err
	}
	return f.balances[creds.APIKey], nil
}

type staticCreds map[string]domain.Credentials

func (s staticCreds) Credentials(_ context.Context, owner string) (domain.Credentials, error) {
	c, ok := s[owner]
	if !ok {
		return domain.Credentials{}, domain.ErrCredentialsMissing
	}
	return c, nil
}

func TestValuate(t *testing.T) {
	f := newFixture(t, nil)
	f.cache.Set("BTCUSDT", 50_000, 5, true)
	resolver := pricing.NewResolver(f.cache, f.overrides)

	snap := Valuate("alice", "usdt", []domain.AssetBalance{
		{Asset: "USDT", Free: 100, Locked: 50},
		{Asset: "BTC", Free: 0.01, Locked: 0.01},
		{Asset: "XYZ", Free: 3},
		{Asset: "DUST"},
	}, resolver)

	assert.Equal(t, "USDT", snap.QuoteAsset)
	assert.InDelta(t, 1150, snap.Valuation, 1e-9)
	assert.Equal(t, []string{"XYZ"}, snap.Skipped)
	assert.Len(t, snap.Balances, 3)
	assert.InDelta(t, 0.02, snap.Balances["BTC"], 1e-12)
}

func newSync(f *fixture, fetcher BalanceFetcher, creds domain.CredentialSource, now *time.Time) *AccountSync {
	s := NewAccountSync(f.accounts, creds, fetcher, pricing.NewResolver(f.cache, f.overrides),
		f.snapshots, f.locks, f.events, AccountSyncConfig{
			QuoteAsset: "USDT", Interval: 15 * time.Second, FetchTimeout: time.Second,
		}, testLogger())
	s.now = func() time.Time { return *now }
	return s
}

func TestAccountSyncPassSchedulesDueOwners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	now := time.Now().UTC()
	for _, owner := range []string{"alice", "bob"} {
		require.NoError(t, f.accounts.SaveCredentials(ctx, domain.EncryptedCredentials{OwnerID: owner, APIKey: owner, APISecretEnc: "x", UpdatedAt: now}))
	}
	fetcher := &fakeFetcher{balances: map[string][]domain.AssetBalance{
		"alice": {{Asset: "USDT", Free: 10}},
		"bob":   {{Asset: "USDT", Free: 20}},
	}}
	creds := staticCreds{"alice": {APIKey: "alice"}, "bob": {APIKey: "bob"}}
	s := newSync(f, fetcher, creds, &now)

	assert.Equal(t, 2, s.Pass(ctx))
	assert.Equal(t, 0, s.Pass(ctx))

	now = now.Add(15 * time.Second)
	assert.Equal(t, 2, s.Pass(ctx))
	assert.Equal(t, []string{"alice", "bob", "alice", "bob"}, fetcher.calls)

	snap, err := f.snapshots.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 20.0, snap.Valuation)
}

func TestAccountSyncFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	now := time.Now().UTC()
	require.NoError(t, f.accounts.SaveCredentials(ctx, domain.EncryptedCredentials{OwnerID: "alice", APIKey: "alice", APISecretEnc: "x", UpdatedAt: now}))

	fetcher := &fakeFetcher{
		balances: map[string][]domain.AssetBalance{"alice": {{Asset: "USDT", Free: 10}}},
		fail:     map[string]error{},
	}
	s := newSync(f, fetcher, staticCreds{"alice": {APIKey: "alice"}}, &now)
	s.Pass(ctx)

	fetcher.fail["alice"] = errors.New("timeout")
	now = now.Add(20 * time.Second)
	s.Pass(ctx)

	snap, err := f.snapshots.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.Valuation)
	assert.Contains(t, f.events.types(), domain.EventSyncFailed)

	// The failed attempt still counts toward the interval.
	now = now.Add(5 * time.Second)
	assert.Equal(t, 0, s.Pass(ctx))
}

func TestAccountSyncSkipsLockedOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	now := time.Now().UTC()
	fetcher := &fakeFetcher{}
	s := newSync(f, fetcher, staticCreds{"alice": {APIKey: "alice"}}, &now)

	unlock, err := f.locks.Acquire(ctx, "sync:alice", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = s.SyncOwner(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, fetcher.calls)
}

func TestAccountServiceCredentialsRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	vault, err := crypto.NewVault("correct horse battery staple")
	require.NoError(t, err)
	svc := NewAccountService(f.accounts, f.snapshots, f.audit, vault, testLogger())

	_, err = svc.Credentials(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)

	require.NoError(t, svc.LinkCredentials(ctx, "alice", "api-key-1234", "top-secret"))

	stored, err := f.accounts.GetCredentials(ctx, "alice")
	require.NoError(t, err)
	assert.NotContains(t, stored.APISecretEnc, "top-secret")
	assert.True(t, crypto.IsSealed(stored.APISecretEnc))

	creds, err := svc.Credentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "top-secret", creds.APISecret)

	entries, err := f.audit.List(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionCredentialsLinked, entries[0].Action)
	assert.NotContains(t, entries[0].Payload["credentials"], "top-secret")
}

func TestAccountServiceSettings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	svc := NewAccountService(f.accounts, f.snapshots, f.audit, nil, testLogger())

	us, err := svc.Settings(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSimulated, us.DefaultMode)

	bad := 20_000.0
	_, err = svc.UpdateSettings(ctx, domain.UserSettings{OwnerID: "alice", FeeRateBps: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)

	_, err = svc.UpdateSettings(ctx, domain.UserSettings{OwnerID: "alice", DefaultTakeProfitPercent: 1.2})
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)
	_, err = svc.UpdateSettings(ctx, domain.UserSettings{OwnerID: "alice", DefaultTakeProfitPercent: 1})
	require.NoError(t, err)

	saved, err := svc.UpdateSettings(ctx, domain.UserSettings{OwnerID: "alice", DisplaySymbol: "ethusdt"})
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", saved.DisplaySymbol)

	syms, err := f.accounts.DisplaySymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT"}, syms)

	err = svc.LinkCredentials(ctx, "alice", "k", "s")
	assert.ErrorIs(t, err, errVaultDisabled)
}

func TestPriceServiceOverrides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	resolver := pricing.NewResolver(f.cache, f.overrides)
	svc := NewPriceService(f.cache, resolver, f.overrides, f.audit, testLogger())
	f.cache.Set("BTCUSDT", 100, 12, true)

	require.NoError(t, svc.SetOverride(ctx, "btcusdt", 150))
	require.NoError(t, svc.SetOverride(ctx, "SOLUSDT", 20))

	e, err := svc.Get("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 150.0, e.Price)
	assert.Equal(t, int64(12), e.LatencyMs)

	snap := svc.Snapshot()
	assert.Len(t, snap, 2)

	require.NoError(t, svc.ClearOverride(ctx, "BTCUSDT"))
	e, err = svc.Get("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, e.Price)

	assert.ErrorIs(t, svc.ClearOverride(ctx, "BTCUSDT"), domain.ErrNotFound)
	assert.ErrorIs(t, svc.SetOverride(ctx, "BTCUSDT", 0), domain.ErrInvalidPosition)
	assert.ErrorIs(t, svc.SetOverride(ctx, "BTCUSDT", math.NaN()), domain.ErrInvalidPosition)
	assert.ErrorIs(t, svc.SetOverride(ctx, "BTCUSDT", math.Inf(1)), domain.ErrInvalidPosition)

	_, err = svc.Get("DOGEUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
