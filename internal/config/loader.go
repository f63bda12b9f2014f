package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRAILBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error: defaults plus the
// environment are used. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRAILBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "TRAILBOT_STORE_DRIVER")
	setStr(&cfg.SQLite.Path, "TRAILBOT_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRAILBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRAILBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRAILBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRAILBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRAILBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRAILBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRAILBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRAILBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRAILBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRAILBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRAILBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRAILBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRAILBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRAILBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRAILBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TRAILBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRAILBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRAILBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRAILBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRAILBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRAILBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRAILBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRAILBOT_S3_FORCE_PATH_STYLE")

	// ── Exchange ──
	setStr(&cfg.Exchange.RESTBaseURL, "TRAILBOT_EXCHANGE_REST_BASE_URL")
	setStr(&cfg.Exchange.StreamURL, "TRAILBOT_EXCHANGE_STREAM_URL")
	setStr(&cfg.Exchange.QuoteAsset, "TRAILBOT_EXCHANGE_QUOTE_ASSET")
	setInt64(&cfg.Exchange.RecvWindowMs, "TRAILBOT_EXCHANGE_RECV_WINDOW_MS")
	setFloat64(&cfg.Exchange.OrdersPerSecond, "TRAILBOT_EXCHANGE_ORDERS_PER_SECOND")

	// ── Loops ──
	setDuration(&cfg.Feed.PollInterval, "TRAILBOT_FEED_POLL_INTERVAL")
	setDuration(&cfg.Feed.ReconnectDelay, "TRAILBOT_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Engine.TickInterval, "TRAILBOT_ENGINE_TICK_INTERVAL")
	setFloat64(&cfg.Engine.DefaultStepPercent, "TRAILBOT_ENGINE_DEFAULT_STEP_PERCENT")
	setBool(&cfg.Sync.Enabled, "TRAILBOT_SYNC_ENABLED")
	setDuration(&cfg.Sync.Interval, "TRAILBOT_SYNC_INTERVAL")
	setDuration(&cfg.Sync.OwnerDelay, "TRAILBOT_SYNC_OWNER_DELAY")

	// ── Simulation / vault ──
	setFloat64(&cfg.Simulation.DefaultFeeBps, "TRAILBOT_SIMULATION_DEFAULT_FEE_BPS")
	setStr(&cfg.Vault.Passphrase, "TRAILBOT_VAULT_PASSPHRASE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRAILBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRAILBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "TRAILBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRAILBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRAILBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRAILBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TRAILBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRAILBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRAILBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRAILBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRAILBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRAILBOT_MODE")
	setStr(&cfg.LogLevel, "TRAILBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
