// Package config defines the top-level configuration for trailbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRAILBOT_* environment variables.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Feed       FeedConfig       `toml:"feed"`
	Engine     EngineConfig     `toml:"engine"`
	Sync       SyncConfig       `toml:"sync"`
	Simulation SimulationConfig `toml:"simulation"`
	Vault      VaultConfig      `toml:"vault"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the single-node database file location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks and
// overrides stay in-process and no price mirror or event bus runs.
type RedisConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	PoolSize        int      `toml:"pool_size"`
	MaxRetries      int      `toml:"max_retries"`
	TLSEnabled      bool     `toml:"tls_enabled"`
	MirrorInterval  duration `toml:"mirror_interval"`
	OverrideRefresh duration `toml:"override_refresh"`
	EventChannel    string   `toml:"event_channel"`
	KeyPrefix       string   `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ExchangeConfig holds exchange endpoints and order parameters.
type ExchangeConfig struct {
	RESTBaseURL     string   `toml:"rest_base_url"`
	StreamURL       string   `toml:"stream_url"`
	QuoteAsset      string   `toml:"quote_asset"`
	RecvWindowMs    int64    `toml:"recv_window_ms"`
	OrdersPerSecond float64  `toml:"orders_per_second"`
	RequestTimeout  duration `toml:"request_timeout"`
}

// FeedConfig holds price feed timings.
type FeedConfig struct {
	PollInterval     duration `toml:"poll_interval"`
	ReconnectDelay   duration `toml:"reconnect_delay"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
	ReadTimeout      duration `toml:"read_timeout"`
}

// EngineConfig holds trailing engine parameters.
type EngineConfig struct {
	TickInterval       duration `toml:"tick_interval"`
	DefaultStepPercent float64  `toml:"default_step_percent"`
	CloseLockTTL       duration `toml:"close_lock_ttl"`
}

// SyncConfig holds account synchronizer timings.
type SyncConfig struct {
	Enabled      bool     `toml:"enabled"`
	PassInterval duration `toml:"pass_interval"`
	Interval     duration `toml:"interval"`
	OwnerDelay   duration `toml:"owner_delay"`
	FetchTimeout duration `toml:"fetch_timeout"`
}

// SimulationConfig holds simulated execution parameters.
type SimulationConfig struct {
	DefaultFeeBps float64 `toml:"default_fee_bps"`
}

// VaultConfig holds the credential vault passphrase.
type VaultConfig struct {
	Passphrase string `toml:"passphrase"`
}

// ArchiveConfig controls the cold-storage archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Driver: "sqlite"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "trailbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "trailbot.db"},
		Redis: RedisConfig{
			Enabled:         false,
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			MirrorInterval:  duration{time.Second},
			OverrideRefresh: duration{2 * time.Second},
			EventChannel:    "trailbot:events",
			KeyPrefix:       "trailbot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "trailbot-archive",
			ForcePathStyle: true,
		},
		Exchange: ExchangeConfig{
			RESTBaseURL:     "https://api.binance.com",
			StreamURL:       "wss://stream.binance.com:9443",
			QuoteAsset:      "USDT",
			RecvWindowMs:    5000,
			OrdersPerSecond: 5,
			RequestTimeout:  duration{10 * time.Second},
		},
		Feed: FeedConfig{
			PollInterval:     duration{5 * time.Second},
			ReconnectDelay:   duration{5 * time.Second},
			HandshakeTimeout: duration{10 * time.Second},
			ReadTimeout:      duration{60 * time.Second},
		},
		Engine: EngineConfig{
			TickInterval:       duration{500 * time.Millisecond},
			DefaultStepPercent: 0.005,
			CloseLockTTL:       duration{30 * time.Second},
		},
		Sync: SyncConfig{
			Enabled:      true,
			PassInterval: duration{2 * time.Second},
			Interval:     duration{15 * time.Second},
			OwnerDelay:   duration{1500 * time.Millisecond},
			FetchTimeout: duration{10 * time.Second},
		},
		Simulation: SimulationConfig{DefaultFeeBps: 10},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000"},
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Notify: NotifyConfig{
			Events:    []string{"position_closed", "close_failed"},
			QueueSize: 256,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"engine": true,
	"sync":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, engine, sync)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite)", c.Store.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Exchange
	if c.Exchange.RESTBaseURL == "" {
		errs = append(errs, "exchange: rest_base_url must not be empty")
	}
	if c.Exchange.StreamURL == "" {
		errs = append(errs, "exchange: stream_url must not be empty")
	}
	if c.Exchange.QuoteAsset == "" {
		errs = append(errs, "exchange: quote_asset must not be empty")
	}
	if c.Exchange.OrdersPerSecond <= 0 {
		errs = append(errs, "exchange: orders_per_second must be > 0")
	}

	// Loop timings
	if c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be > 0")
	}
	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be > 0")
	}
	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if c.Engine.DefaultStepPercent <= 0 || c.Engine.DefaultStepPercent >= 1 {
		errs = append(errs, fmt.Sprintf("engine: default_step_percent must be in (0,1), got %v", c.Engine.DefaultStepPercent))
	}
	if c.Sync.Enabled {
		if c.Sync.PassInterval.Duration <= 0 || c.Sync.Interval.Duration <= 0 {
			errs = append(errs, "sync: pass_interval and interval must be > 0")
		}
		if c.Sync.OwnerDelay.Duration < 0 {
			errs = append(errs, "sync: owner_delay must be >= 0")
		}
	}

	if c.Simulation.DefaultFeeBps < 0 {
		errs = append(errs, "simulation: default_fee_bps must be >= 0")
	}

	// Vault is needed whenever credentials can be read.
	if c.Sync.Enabled && c.Vault.Passphrase == "" {
		errs = append(errs, "vault: passphrase is required when sync is enabled")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
