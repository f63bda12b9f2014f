package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/trailbot/internal/domain"
	"github.com/alanyoungcy/trailbot/internal/executor"
	"github.com/alanyoungcy/trailbot/internal/feed"
	"github.com/alanyoungcy/trailbot/internal/notify"
	"github.com/alanyoungcy/trailbot/internal/platform/binance"
	"github.com/alanyoungcy/trailbot/internal/pricing"
	"github.com/alanyoungcy/trailbot/internal/server"
	"github.com/alanyoungcy/trailbot/internal/server/handler"
	"github.com/alanyoungcy/trailbot/internal/server/ws"
	"github.com/alanyoungcy/trailbot/internal/service"
)

// hubPriceInterval is how often WebSocket clients receive the price table.
const hubPriceInterval = time.Second

// services holds the domain services shared by every mode.
type services struct {
	resolver  *pricing.Resolver
	publisher domain.EventPublisher
	hub       *ws.Hub
	positions *service.PositionService
	prices    *service.PriceService
	accounts  *service.AccountService
	ledger    *service.LedgerService
}

// components selects which long-running loops a mode starts.
type components struct {
	engine bool
	sync   bool
}

// FullMode runs the price feed, the trailing engine, the account
// synchronizer and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.start(ctx, deps, components{engine: true, sync: a.cfg.Sync.Enabled})
}

// EngineMode runs the price feed and the trailing engine without account
// synchronization.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")
	return a.start(ctx, deps, components{engine: true})
}

// SyncMode runs only the price feed and the account synchronizer. Positions
// can still be opened through the API but no take-profit is evaluated.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")
	if !a.cfg.Sync.Enabled {
		a.logger.WarnContext(ctx, "sync.enabled is false, sync mode runs the synchronizer anyway")
	}
	return a.start(ctx, deps, components{sync: true})
}

func (a *App) start(ctx context.Context, deps *Dependencies, c components) error {
	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)

	// Price feed: always on, every mode values something.
	feedMgr := feed.NewManager(feed.ManagerConfig{
		StreamURL:        a.cfg.Exchange.StreamURL,
		PollInterval:     a.cfg.Feed.PollInterval.Duration,
		ReconnectDelay:   a.cfg.Feed.ReconnectDelay.Duration,
		HandshakeTimeout: a.cfg.Feed.HandshakeTimeout.Duration,
		ReadTimeout:      a.cfg.Feed.ReadTimeout.Duration,
	}, feed.NewStoreSymbols(deps.Positions, deps.Accounts), deps.PriceCache, deps.Overrides, a.logger)
	g.Go(func() error {
		return feedMgr.Run(ctx)
	})

	// Notifications.
	g.Go(func() error {
		return deps.Dispatcher.Run(ctx)
	})

	// Redis loops.
	if deps.OverrideSync != nil {
		g.Go(func() error { return deps.OverrideSync.Run(ctx) })
	}
	if deps.PriceMirror != nil {
		g.Go(func() error { return deps.PriceMirror.Run(ctx) })
	}
	if deps.EventBus != nil {
		g.Go(func() error { return deps.EventBus.Run(ctx) })
	}

	var engine *service.TrailingEngine
	if c.engine {
		engine = service.NewTrailingEngine(
			deps.Positions, svc.resolver, svc.positions, svc.publisher,
			a.cfg.Engine.TickInterval.Duration, a.logger,
		)
		g.Go(func() error {
			return engine.Run(ctx)
		})
	}

	if c.sync {
		fetcher := binance.NewAccountClient(a.cfg.Exchange.RESTBaseURL, a.cfg.Exchange.RequestTimeout.Duration)
		syncer := service.NewAccountSync(
			deps.Accounts, svc.accounts, fetcher, svc.resolver, deps.Snapshots,
			deps.Locks, svc.publisher,
			service.AccountSyncConfig{
				QuoteAsset:   a.cfg.Exchange.QuoteAsset,
				PassInterval: a.cfg.Sync.PassInterval.Duration,
				Interval:     a.cfg.Sync.Interval.Duration,
				OwnerDelay:   a.cfg.Sync.OwnerDelay.Duration,
				FetchTimeout: a.cfg.Sync.FetchTimeout.Duration,
			},
			a.logger,
		)
		g.Go(func() error {
			return syncer.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		scheduler := service.NewArchiveScheduler(
			deps.Archiver, a.cfg.Archive.RetentionDays, a.cfg.Archive.Interval.Duration, a.logger,
		)
		g.Go(func() error {
			return scheduler.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}

	err := g.Wait()
	if engine != nil {
		engine.Wait()
	}
	return err
}

// buildServices constructs the domain services and the event fan-out.
func (a *App) buildServices(deps *Dependencies) *services {
	svc := &services{
		resolver: pricing.NewResolver(deps.PriceCache, deps.Overrides),
	}
	svc.prices = service.NewPriceService(deps.PriceCache, svc.resolver, deps.Overrides, deps.Audit, a.logger)
	svc.accounts = service.NewAccountService(deps.Accounts, deps.Snapshots, deps.Audit, deps.Vault, a.logger)
	svc.ledger = service.NewLedgerService(deps.Trades, deps.Audit)

	fanout := notify.Fanout{deps.Dispatcher}
	if deps.EventBus != nil {
		fanout = append(fanout, deps.EventBus)
	}
	if a.cfg.Server.Enabled {
		svc.hub = ws.NewHub(svc.prices, hubPriceInterval, a.cfg.Server.CORSOrigins, a.logger)
		fanout = append(fanout, svc.hub)
	}
	svc.publisher = fanout

	simulated := executor.NewSimulated(svc.resolver, deps.Accounts, a.cfg.Simulation.DefaultFeeBps, a.logger)
	var live domain.ExecutionAdapter
	if deps.Vault != nil {
		orders := binance.NewOrderClient(
			a.cfg.Exchange.RESTBaseURL, a.cfg.Exchange.RecvWindowMs, a.cfg.Exchange.RequestTimeout.Duration,
		)
		live = executor.NewLive(
			orders, svc.accounts, svc.resolver, a.cfg.Exchange.QuoteAsset,
			a.cfg.Exchange.OrdersPerSecond, a.logger,
		)
	} else {
		a.logger.Warn("vault passphrase not set, LIVE positions are disabled")
	}

	svc.positions = service.NewPositionService(service.PositionServiceConfig{
		Positions:    deps.Positions,
		Trades:       deps.Trades,
		Idempotency:  deps.Idempotency,
		Audit:        deps.Audit,
		Settings:     deps.Accounts,
		Adapters:     executor.NewRouter(simulated, live),
		Locks:        deps.Locks,
		Events:       svc.publisher,
		CloseLockTTL: a.cfg.Engine.CloseLockTTL.Duration,
		DefaultStep:  a.cfg.Engine.DefaultStepPercent,
	}, a.logger)

	return svc
}

// startHTTPServer adds the WebSocket hub and the HTTP server to the errgroup.
// The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	ping := func(ctx context.Context) error {
		if err := deps.Ping(ctx); err != nil {
			return err
		}
		if deps.Redis != nil {
			return deps.Redis.Ping(ctx)
		}
		return nil
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, svc.prices, ping, a.logger),
		Positions: handler.NewPositionHandler(svc.positions, a.logger),
		Prices:    handler.NewPriceHandler(svc.prices, a.logger),
		Accounts:  handler.NewAccountHandler(svc.accounts, svc.ledger, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, svc.hub, deps.APILimiter, a.logger)

	g.Go(func() error {
		return svc.hub.Run(ctx)
	})
	g.Go(func() error {
		a.logger.InfoContext(ctx, "http server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Run(ctx)
	})
}
