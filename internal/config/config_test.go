package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "configs", cfg.ConfigDir)
	assert.Equal(t, 4, cfg.Ingest.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MOVIELAKE_DATA_DIR", "/var/lib/movielake")
	t.Setenv("MOVIELAKE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/movielake", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}

	assert.Equal(t, filepath.Join("/data", "bronze"), cfg.BronzeDir())
	assert.Equal(t, filepath.Join("/data", "silver"), cfg.SilverDir())
	assert.Equal(t, filepath.Join("/data", "gold"), cfg.GoldDir())
	assert.Equal(t, filepath.Join("/data", "audit", "ledger.jsonl"), cfg.LedgerPath())

	cfg.Ledger = "/elsewhere/ledger.jsonl"
	assert.Equal(t, "/elsewhere/ledger.jsonl", cfg.LedgerPath())
}

func TestConcurrencyFloor(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MOVIELAKE_INGEST_CONCURRENCY", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Ingest.Concurrency)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
