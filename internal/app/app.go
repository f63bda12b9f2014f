// Package app provides the top-level application lifecycle management for the
// trailing take-profit bot. It wires together all dependencies (stores,
// caches, blob storage, services and notifications) and starts the
// appropriate goroutines based on the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/trailbot/internal/config"
	"github.com/alanyoungcy/trailbot/internal/crypto"
	"github.com/alanyoungcy/trailbot/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "full":
		err = a.FullMode(ctx, deps)
	case "engine":
		err = a.EngineMode(ctx, deps)
	case "sync":
		err = a.SyncMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Migrate opens the configured store, which applies pending migrations, and
// closes it again.
func Migrate(ctx context.Context, cfg *config.Config) error {
	migrateCfg := *cfg
	migrateCfg.Postgres.RunMigrations = true
	_, cleanup, err := OpenStores(ctx, &migrateCfg)
	if err != nil {
		return err
	}
	cleanup()
	return nil
}

// LinkCredentials seals and stores exchange credentials for ownerID without
// starting the bot.
func LinkCredentials(ctx context.Context, cfg *config.Config, logger *slog.Logger, ownerID, apiKey, apiSecret string) error {
	vault, err := crypto.NewVault(cfg.Vault.Passphrase)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	stores, cleanup, err := OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	accounts := service.NewAccountService(stores.Accounts, stores.Snapshots, stores.Audit, vault, logger)
	return accounts.LinkCredentials(ctx, ownerID, apiKey, apiSecret)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
