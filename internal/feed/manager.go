package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// errResubscribe ends a session because the required symbol set changed.
var errResubscribe = errors.New("feed: symbol set changed")

// ManagerConfig holds the stream endpoint and timings.
type ManagerConfig struct {
	StreamURL        string
	PollInterval     time.Duration
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
}

// Manager owns the single upstream trade stream. It subscribes to the
// current symbol set, writes every tick into the price cache and
// reconnects after failures.
type Manager struct {
	cfg       ManagerConfig
	symbols   SymbolSource
	cache     domain.PriceCache
	overrides domain.OverrideStore
	dialer    *websocket.Dialer
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. overrides may be nil.
func NewManager(cfg ManagerConfig, symbols SymbolSource, cache domain.PriceCache, overrides domain.OverrideStore, logger *slog.Logger) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		symbols:   symbols,
		cache:     cache,
		overrides: overrides,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With(slog.String("component", "feed")),
		now:    time.Now,
	}
}

// Run keeps a session open until ctx is cancelled. On exit every cached
// symbol is marked disconnected.
func (m *Manager) Run(ctx context.Context) error {
	defer m.markAllDisconnected()

	for {
		syms, err := m.symbols.RequiredSymbols(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.WarnContext(ctx, "feed: symbol lookup failed", slog.String("error", err.Error()))
			if !sleep(ctx, m.cfg.PollInterval) {
				return nil
			}
			continue
		}
		syms = normalizeSet(syms)
		if len(syms) == 0 {
			if !sleep(ctx, m.cfg.PollInterval) {
				return nil
			}
			continue
		}

		err = m.session(ctx, syms)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errResubscribe) {
			continue
		}
		m.logger.WarnContext(ctx, "feed: session ended, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", m.cfg.ReconnectDelay),
		)
		if !sleep(ctx, m.cfg.ReconnectDelay) {
			return nil
		}
	}
}

// session holds one connection for syms. It returns errResubscribe when the
// required set changes, the read error when the stream drops, or ctx.Err().
func (m *Manager) session(ctx context.Context, syms []string) error {
	url := StreamURL(m.cfg.StreamURL, syms)
	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		m.cache.SetConnected(syms, false)
		return fmt.Errorf("feed: dial: %w", err)
	}
	m.logger.InfoContext(ctx, "feed: subscribed", slog.Int("symbols", len(syms)))

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(m.now().Add(m.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), m.now().Add(time.Second))
	})

	readErr := make(chan error, 1)
	go func() { readErr <- m.readLoop(ctx, conn) }()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-readErr
			return ctx.Err()

		case err := <-readErr:
			conn.Close()
			m.cache.SetConnected(syms, false)
			return err

		case <-ticker.C:
			next, err := m.symbols.RequiredSymbols(ctx)
			if err != nil {
				m.logger.WarnContext(ctx, "feed: symbol recompute failed", slog.String("error", err.Error()))
				continue
			}
			next = normalizeSet(next)
			if sameSet(next, syms) {
				continue
			}
			m.logger.InfoContext(ctx, "feed: symbol set changed",
				slog.Int("old", len(syms)),
				slog.Int("new", len(next)),
			)
			conn.Close()
			<-readErr
			return errResubscribe
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := conn.SetReadDeadline(m.now().Add(m.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		tick, ok, err := ParseTick(msg)
		if err != nil {
			m.logger.DebugContext(ctx, "feed: skipping message", slog.String("error", err.Error()))
			continue
		}
		if ok {
			m.handleTick(tick)
		}
	}
}

// handleTick records tick in the cache. An override for the symbol replaces
// the stream price.
func (m *Manager) handleTick(t Tick) {
	if !domain.UsablePrice(t.Price) {
		return
	}
	latency := m.now().UnixMilli() - t.EventTime
	if latency < 0 {
		latency = 0
	}
	if latency > domain.LatencyCapMs {
		latency = domain.LatencyCapMs
	}

	price := t.Price
	if m.overrides != nil {
		if ov, ok := m.overrides.Get(t.Symbol); ok && domain.UsablePrice(ov) {
			price = ov
		}
	}
	m.cache.Set(t.Symbol, price, latency, true)
}

func (m *Manager) markAllDisconnected() {
	entries := m.cache.Snapshot()
	syms := make([]string, 0, len(entries))
	for _, e := range entries {
		syms = append(syms, e.Symbol)
	}
	m.cache.SetConnected(syms, false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
