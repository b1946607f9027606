// Package config loads statecore settings from the environment and builds
// the process logger.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds settings read from STATECORE_* variables.
// Command-line flags override these.
type Config struct {
	LogLevel      string        `env:"STATECORE_LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"STATECORE_LOG_FORMAT" envDefault:"text"`
	Journal       string        `env:"STATECORE_JOURNAL"`
	SettleTimeout time.Duration `env:"STATECORE_SETTLE_TIMEOUT" envDefault:"5s"`
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"text", "json"}
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown levels and formats and non-positive timeouts.
func (c Config) Validate() error {
	if !slices.Contains(validLevels, c.LogLevel) {
		return fmt.Errorf("invalid STATECORE_LOG_LEVEL %q: must be one of %v", c.LogLevel, validLevels)
	}
	if !slices.Contains(validFormats, c.LogFormat) {
		return fmt.Errorf("invalid STATECORE_LOG_FORMAT %q: must be one of %v", c.LogFormat, validFormats)
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("invalid STATECORE_SETTLE_TIMEOUT %s: must be positive", c.SettleTimeout)
	}
	return nil
}

// Level maps LogLevel to a slog.Level. Unknown values map to info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
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

// NewLogger builds a text or JSON logger writing to w. verbose forces debug level.
func (c Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := c.Level()
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
