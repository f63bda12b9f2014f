package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// BalanceFetcher reads exchange balances with an owner's credentials.
type BalanceFetcher interface {
	Balances(ctx context.Context, creds domain.Credentials) ([]domain.AssetBalance, error)
}

// AccountSyncConfig holds the synchronizer timings.
type AccountSyncConfig struct {
	QuoteAsset   string
	PassInterval time.Duration
	Interval     time.Duration
	OwnerDelay   time.Duration
	FetchTimeout time.Duration
}

// AccountSync periodically values each linked owner's exchange account in
// the quote asset and stores the latest snapshot.
type AccountSync struct {
	accounts  domain.AccountStore
	creds     domain.CredentialSource
	fetcher   BalanceFetcher
	prices    PriceSource
	snapshots domain.SnapshotStore
	locks     domain.LockManager
	events    domain.EventPublisher
	cfg       AccountSyncConfig
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	lastAttempt map[string]time.Time
}

// NewAccountSync creates an AccountSync.
func NewAccountSync(
	accounts domain.AccountStore,
	creds domain.CredentialSource,
	fetcher BalanceFetcher,
	prices PriceSource,
	snapshots domain.SnapshotStore,
	locks domain.LockManager,
	events domain.EventPublisher,
	cfg AccountSyncConfig,
	logger *slog.Logger,
) *AccountSync {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.PassInterval <= 0 {
		cfg.PassInterval = 2 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &AccountSync{
		accounts:    accounts,
		creds:       creds,
		fetcher:     fetcher,
		prices:      prices,
		snapshots:   snapshots,
		locks:       locks,
		events:      events,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "account_sync")),
		now:         func() time.Time { return time.Now().UTC() },
		lastAttempt: make(map[string]time.Time),
	}
}

// Run executes a scheduler pass every PassInterval until ctx is cancelled.
func (s *AccountSync) Run(ctx context.Context) error {
	s.logger.Info("account sync started",
		slog.Duration("pass_interval", s.cfg.PassInterval),
		slog.Duration("interval", s.cfg.Interval),
	)
	defer s.logger.Info("account sync stopped")

	ticker := time.NewTicker(s.cfg.PassInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Pass(ctx)
		}
	}
}

// Pass syncs every due owner serially, pausing OwnerDelay between owners.
// It returns the number of owners attempted.
func (s *AccountSync) Pass(ctx context.Context) int {
	owners, err := s.accounts.LinkedOwners(ctx)
	if err != nil {
		s.logger.Error("list linked owners failed", slog.String("error", err.Error()))
		return 0
	}

	due := s.dueOwners(owners)
	for i, owner := range due {
		if i > 0 && s.cfg.OwnerDelay > 0 {
			select {
			case <-ctx.Done():
				return i
			case <-time.After(s.cfg.OwnerDelay):
			}
		}

		s.mu.Lock()
		s.lastAttempt[owner] = s.now()
		s.mu.Unlock()

		if _, err := s.SyncOwner(ctx, owner); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.Debug("owner sync held elsewhere", slog.String("owner", owner))
				continue
			}
			s.logger.Warn("owner sync failed, keeping previous snapshot",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
			if s.events != nil {
				s.events.Publish(ctx, domain.Event{
					Type:    domain.EventSyncFailed,
					OwnerID: owner,
					Payload: map[string]any{"error": err.Error()},
					At:      s.now(),
				})
			}
		}
	}
	return len(due)
}

func (s *AccountSync) dueOwners(owners []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []string
	for _, o := range owners {
		last, seen := s.lastAttempt[o]
		if !seen || now.Sub(last) >= s.cfg.Interval {
			due = append(due, o)
		}
	}
	return due
}

// SyncOwner fetches, values and stores one owner's balances.
func (s *AccountSync) SyncOwner(ctx context.Context, owner string) (domain.PortfolioSnapshot, error) {
	unlock, err := s.locks.Acquire(ctx, "sync:"+owner, 2*s.cfg.FetchTimeout)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("account_sync: lock %s: %w", owner, err)
	}
	defer unlock()

	creds, err := s.creds.Credentials(ctx, owner)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("account_sync: credentials for %s: %w", owner, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	balances, err := s.fetcher.Balances(fetchCtx, creds)
	cancel()
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("account_sync: fetch balances for %s: %w", owner, err)
	}

	snap := Valuate(owner, s.cfg.QuoteAsset, balances, s.prices)
	snap.SyncedAt = s.now()
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("account_sync: save snapshot for %s: %w", owner, err)
	}

	s.logger.Debug("owner synced",
		slog.String("owner", owner),
		slog.Float64("valuation", snap.Valuation),
		slog.Int("assets", len(snap.Balances)),
		slog.Int("skipped", len(snap.Skipped)),
	)
	return snap, nil
}

// Valuate sums balances in the quote asset. The quote asset counts at face
// value; every other asset is priced at <asset><quote>, and assets without a
// usable price are listed in Skipped.
func Valuate(owner, quote string, balances []domain.AssetBalance, prices PriceSource) domain.PortfolioSnapshot {
	quote = strings.ToUpper(quote)
	snap := domain.PortfolioSnapshot{
		OwnerID:    owner,
		QuoteAsset: quote,
		Balances:   make(map[string]float64, len(balances)),
	}

	total := decimal.Zero
	for _, b := range balances {
		asset := strings.ToUpper(b.Asset)
		amount := decimal.NewFromFloat(b.Free).Add(decimal.NewFromFloat(b.Locked))
		if amount.IsZero() {
			continue
		}
		snap.Balances[asset] = amount.InexactFloat64()

		if asset == quote {
			total = total.Add(amount)
			continue
		}
		price, ok := prices.Price(asset + quote)
		if !ok {
			snap.Skipped = append(snap.Skipped, asset)
			continue
		}
		total = total.Add(amount.Mul(decimal.NewFromFloat(price)))
	}
	sort.Strings(snap.Skipped)
	snap.Valuation = total.InexactFloat64()
	return snap
}
