package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AUTOCLICK_DB_PATH", "")
	t.Setenv("AUTOCLICK_LOG_LEVEL", "")
	t.Setenv("AUTOCLICK_POOL_SIZE", "")
	t.Setenv("AUTOCLICK_SCHEDULE_TICK_SECS", "")
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateConfig(t)

	cfg := loadConfig()
	assert.Equal(t, filepath.Join(home, ".autoclick", "autoclick.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, 60, cfg.TickSecs)
}

func TestLoadConfig_SettingsFile(t *testing.T) {
	home := isolateConfig(t)
	dir := filepath.Join(home, ".autoclick")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	settings := `{"log_level": "debug", "pool_size": 8}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o644))

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.PoolSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 60, cfg.TickSecs)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	home := isolateConfig(t)
	dir := filepath.Join(home, ".autoclick")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	settings := `{"log_level": "debug"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o644))

	t.Setenv("AUTOCLICK_LOG_LEVEL", "error")
	t.Setenv("AUTOCLICK_POOL_SIZE", "12")
	t.Setenv("AUTOCLICK_SCHEDULE_TICK_SECS", "not-a-number")

	cfg := loadConfig()
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 12, cfg.PoolSize)
	// Unparseable numeric overrides are ignored.
	assert.Equal(t, 60, cfg.TickSecs)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}
