package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Phazzie/autoclick/internal/logging"
)

// Config holds all autoclick configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
	PoolSize int    `json:"pool_size"`
	TickSecs int    `json:"schedule_tick_secs"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(autoclickDir(), "autoclick.db"),
		LogLevel: "info",
		PoolSize: 4,
		TickSecs: 60,
	}
}

func autoclickDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoclick"
	}
	return filepath.Join(home, ".autoclick")
}

func settingsPath() string {
	return filepath.Join(autoclickDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("AUTOCLICK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AUTOCLICK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTOCLICK_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("AUTOCLICK_SCHEDULE_TICK_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TickSecs = n
		}
	}

	return cfg
}

// newLogger builds the process logger: text on stderr (stdout belongs
// to the MCP transport and run reports) with run/step correlation
// fields pulled from the context.
func newLogger(level string) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(level)})
	return slog.New(logging.NewCorrelationHandler(h))
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
