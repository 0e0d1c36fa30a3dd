package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Scraper.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Scraper.ProxyTimeout)
	assert.Equal(t, []string{"gsmarena"}, cfg.Scraper.DefaultSites)
	assert.Equal(t, 10*time.Second, cfg.Batch.DelayBetweenBrands)
	assert.Equal(t, 15*time.Second, cfg.Batch.DelayBetweenCategories)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Redis.Enabled())
	assert.Error(t, cfg.RequirePersistence())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SCRAPER_MAX_RETRIES", "5")
	t.Setenv("SCRAPER_RATE_PER_SECOND", "0.5")
	t.Setenv("SCRAPER_TRANSPORT_CHAIN", "stealth, plain")
	t.Setenv("SCRAPER_PARALLEL_SITES", "true")
	t.Setenv("DELAY_BETWEEN_BRANDS", "2s")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SCRAPER_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scraper.MaxRetries)
	assert.Equal(t, 0.5, cfg.Scraper.RatePerSecond)
	assert.Equal(t, []string{"stealth", "plain"}, cfg.Scraper.TransportChain)
	assert.True(t, cfg.Scraper.ParallelSites)
	assert.Equal(t, 2*time.Second, cfg.Batch.DelayBetweenBrands)
	assert.Equal(t, 30*time.Second, cfg.Scraper.Timeout, "unparseable values fall back to the default")
	assert.True(t, cfg.Redis.Enabled())
	require.NoError(t, cfg.RequirePersistence())
	assert.Equal(t, "postgres://postgres:secret@db:5432/phone_catalog?sslmode=disable", cfg.Database.DSN())
}

func TestDSN_PrefersURL(t *testing.T) {
	d := DatabaseConfig{URL: "postgres://u:p@h/db", Host: "ignored"}
	assert.Equal(t, "postgres://u:p@h/db", d.DSN())
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bot_markers: [captcha, "access denied"]
brands: [Samsung, Apple]
proxies: ["10.0.0.1:8080"]
transport_chain: [tls, plain]
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BATCH_BRANDS", "Nokia")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"captcha", "access denied"}, cfg.Scraper.BotMarkers)
	assert.Equal(t, []string{"10.0.0.1:8080"}, cfg.Proxy.List)
	assert.Equal(t, []string{"tls", "plain"}, cfg.Scraper.TransportChain)
	assert.Equal(t, []string{"Nokia"}, cfg.Batch.Brands, "environment wins over the file")
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("brands: [unterminated"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"retries", func(c *Config) { c.Scraper.MaxRetries = 0 }},
		{"delays", func(c *Config) { c.Scraper.DetailDelayMin = 2 * time.Second; c.Scraper.DetailDelayMax = time.Second }},
		{"rate", func(c *Config) { c.Scraper.RatePerSecond = -1 }},
		{"db name", func(c *Config) { c.Database.Host = "db"; c.Database.DBName = "" }},
		{"queue", func(c *Config) { c.Queue.MaxSize = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger := LoggingConfig{Level: "debug", Format: "text"}.NewLogger()
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))

	logger = LoggingConfig{Level: "error", Format: "json"}.NewLogger()
	assert.False(t, logger.Enabled(t.Context(), slog.LevelWarn))
}
