package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateWithPassphrase(t *testing.T) {
	cfg := Defaults()
	cfg.Vault.Passphrase = "secret"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Store.Driver = "mysql"
	cfg.Engine.DefaultStepPercent = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "trade"`)
	assert.Contains(t, err.Error(), `unknown driver "mysql"`)
	assert.Contains(t, err.Error(), "default_step_percent")
	assert.Contains(t, err.Error(), "vault: passphrase")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trailbot.toml")
	body := `
mode = "engine"

[feed]
poll_interval = "750ms"

[engine]
default_step_percent = 0.01

[sqlite]
path = "/tmp/x.db"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("TRAILBOT_VAULT_PASSPHRASE", "from-env")
	t.Setenv("TRAILBOT_SERVER_CORS_ORIGINS", " a.example , ,b.example")
	t.Setenv("TRAILBOT_SYNC_OWNER_DELAY", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Feed.PollInterval.Duration)
	assert.Equal(t, 0.01, cfg.Engine.DefaultStepPercent)
	assert.Equal(t, "/tmp/x.db", cfg.SQLite.Path)
	assert.Equal(t, "from-env", cfg.Vault.Passphrase)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.OwnerDelay.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Feed.ReconnectDelay.Duration)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Vault.Passphrase = "pw"
	cfg.Server.APIKey = "key"
	cfg.Postgres.Password = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Vault.Passphrase)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "", out.Postgres.Password)
	assert.Equal(t, "pw", cfg.Vault.Passphrase)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
