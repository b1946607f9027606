package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.Journal)
	assert.Equal(t, 5*time.Second, cfg.SettleTimeout)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STATECORE_LOG_LEVEL", "debug")
	t.Setenv("STATECORE_LOG_FORMAT", "json")
	t.Setenv("STATECORE_JOURNAL", "/tmp/statecore.db")
	t.Setenv("STATECORE_SETTLE_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/tmp/statecore.db", cfg.Journal)
	assert.Equal(t, 250*time.Millisecond, cfg.SettleTimeout)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("STATECORE_SETTLE_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	base := Config{LogLevel: "info", LogFormat: "text", SettleTimeout: time.Second}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"level", func(c *Config) { c.LogLevel = "trace" }, "STATECORE_LOG_LEVEL"},
		{"format", func(c *Config) { c.LogFormat = "xml" }, "STATECORE_LOG_FORMAT"},
		{"timeout", func(c *Config) { c.SettleTimeout = 0 }, "STATECORE_SETTLE_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, Config{LogLevel: "warn"}.Level())
	assert.Equal(t, slog.LevelError, Config{LogLevel: "error"}.Level())
	assert.Equal(t, slog.LevelInfo, Config{LogLevel: ""}.Level())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Config{LogLevel: "warn", LogFormat: "json"}.NewLogger(&buf, false)

	logger.Info("hidden")
	logger.Warn("shown", "module_id", "counter")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "counter", line["module_id"])

	verbose := Config{LogLevel: "error", LogFormat: "text"}.NewLogger(&buf, true)
	assert.True(t, verbose.Enabled(context.Background(), slog.LevelDebug))
}
