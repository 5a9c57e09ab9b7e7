package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 500, cfg.Orchestrator.HardCapBars)
	require.Equal(t, 30*time.Second, cfg.Orchestrator.GapTimeout.Std())
	require.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
orchestrator:
  hard_cap_bars: 200
  gap_timeout: 5s
symbols:
  - id: 1
    ticker: AAPL
    name: Apple
  - id: 2
    ticker: BTC-USD
    name: Bitcoin
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 200, cfg.Orchestrator.HardCapBars)
	require.Equal(t, 5*time.Second, cfg.Orchestrator.GapTimeout.Std())
	require.Len(t, cfg.Symbols, 2)
	require.Equal(t, "BTC-USD", cfg.Symbols[1].Ticker)

	// Untouched fields keep their defaults.
	require.Equal(t, 150, cfg.Poller.LookbackBars)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: postgres
  postgres_dsn: postgres://file/db
`)
	t.Setenv("CANDLEWATCH_POSTGRES_DSN", "postgres://env/db")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://env/db", cfg.Storage.PostgresDSN)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  backend: postgres\n"))
	require.Error(t, err, "postgres backend without a DSN is unusable")

	_, err = Load(writeConfig(t, "storage:\n  backend: sqlite\n"))
	require.Error(t, err, "unknown backend")

	_, err = Load(writeConfig(t, "orchestrator:\n  hard_cap_bars: 0\n"))
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
