package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/trailbot/internal/blob/s3"
	"github.com/alanyoungcy/trailbot/internal/cache/memory"
	"github.com/alanyoungcy/trailbot/internal/cache/redis"
	"github.com/alanyoungcy/trailbot/internal/config"
	"github.com/alanyoungcy/trailbot/internal/crypto"
	"github.com/alanyoungcy/trailbot/internal/domain"
	"github.com/alanyoungcy/trailbot/internal/notify"
	"github.com/alanyoungcy/trailbot/internal/server/middleware"
	"github.com/alanyoungcy/trailbot/internal/store/postgres"
	"github.com/alanyoungcy/trailbot/internal/store/sqlite"
)

// Stores bundles the persistence layer selected by store.driver.
type Stores struct {
	Positions   domain.PositionStore
	Trades      domain.TradeStore
	Audit       domain.AuditStore
	Idempotency domain.IdempotencyStore
	Snapshots   domain.SnapshotStore
	Accounts    domain.AccountStore

	// Ping checks the underlying database connection.
	Ping func(ctx context.Context) error
}

// Dependencies bundles every infrastructure dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Stores

	// Prices
	PriceCache     *memory.PriceCache
	LocalOverrides *memory.OverrideStore
	Overrides      domain.OverrideStore

	// Coordination. The Redis-backed pieces are nil when redis is disabled.
	Locks        domain.LockManager
	Redis        *redis.Client
	OverrideSync *redis.OverrideSync
	PriceMirror  *redis.PriceMirror
	EventBus     *redis.EventBus
	APILimiter   middleware.Limiter

	// Cold storage, nil unless archive is enabled.
	Archiver domain.Archiver

	// Credentials, nil without a vault passphrase.
	Vault *crypto.Vault

	// Notifications
	Notifier   *notify.Notifier
	Dispatcher *notify.Dispatcher
}

// OpenStores connects to the configured database, applies migrations where
// enabled, and returns the stores with a cleanup function.
func OpenStores(ctx context.Context, cfg *config.Config) (Stores, func(), error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return Stores{}, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				pgClient.Close()
				return Stores{}, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		pool := pgClient.Pool()
		return Stores{
			Positions:   postgres.NewPositionStore(pool),
			Trades:      postgres.NewTradeStore(pool),
			Audit:       postgres.NewAuditStore(pool),
			Idempotency: postgres.NewIdempotencyStore(pool),
			Snapshots:   postgres.NewSnapshotStore(pool),
			Accounts:    postgres.NewAccountStore(pool),
			Ping:        pgClient.Ping,
		}, pgClient.Close, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return Stores{}, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		return Stores{
			Positions:   sqlite.NewPositionStore(db),
			Trades:      sqlite.NewTradeStore(db),
			Audit:       sqlite.NewAuditStore(db),
			Idempotency: sqlite.NewIdempotencyStore(db),
			Snapshots:   sqlite.NewSnapshotStore(db),
			Accounts:    sqlite.NewAccountStore(db),
			Ping:        db.PingContext,
		}, func() { _ = db.Close() }, nil

	default:
		return Stores{}, nil, fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver)
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Persistence ---
	stores, closeStores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeStores)
	deps.Stores = stores

	// --- In-process price state ---
	deps.PriceCache = memory.NewPriceCache()
	deps.LocalOverrides = memory.NewOverrideStore()
	deps.Overrides = deps.LocalOverrides
	deps.Locks = memory.NewLockManager()
	if cfg.Server.RequestsPerSecond > 0 {
		deps.APILimiter = middleware.NewLocalLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst)
	}

	// --- Redis (optional, shares locks and prices across instances) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.Locks = redis.NewLockManager(redisClient)
		deps.OverrideSync = redis.NewOverrideSync(redisClient, deps.LocalOverrides, cfg.Redis.OverrideRefresh.Duration, logger)
		deps.Overrides = deps.OverrideSync
		deps.PriceMirror = redis.NewPriceMirror(redisClient, deps.PriceCache, cfg.Redis.MirrorInterval.Duration, logger)
		deps.EventBus = redis.NewEventBus(redisClient, cfg.Redis.EventChannel, cfg.Notify.QueueSize, logger)
		if cfg.Server.RequestsPerSecond > 0 {
			limit := int(cfg.Server.RequestsPerSecond)
			if limit < 1 {
				limit = 1
			}
			deps.APILimiter = redis.NewRateLimiter(redisClient, limit, time.Second)
		}

		if err := deps.OverrideSync.Refresh(ctx); err != nil {
			logger.WarnContext(ctx, "initial override refresh failed", slog.String("error", err.Error()))
		}
	}

	// --- S3 cold storage (only when archiving) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archive passes will fail until it is",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3Client, deps.Trades, deps.Audit, logger)
	}

	// --- Credential vault ---
	if cfg.Vault.Passphrase != "" {
		vault, err := crypto.NewVault(cfg.Vault.Passphrase)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: vault: %w", err)
		}
		deps.Vault = vault
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Dispatcher = notify.NewDispatcher(deps.Notifier, cfg.Notify.QueueSize, logger)

	return deps, cleanup, nil
}
