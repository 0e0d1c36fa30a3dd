package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Proxy    ProxyConfig
	Batch    BatchConfig
	Queue    QueueConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type ScraperConfig struct {
	MaxRetries     int
	Timeout        time.Duration
	ProxyTimeout   time.Duration
	DetailDelayMin time.Duration
	DetailDelayMax time.Duration
	RatePerSecond  float64
	RateBurst      int
	RespectRobots  bool
	BotMarkers     []string
	TransportChain []string
	UserAgent      string
	ParallelSites  bool
	DefaultSites   []string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	ChallengeWait  time.Duration
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	CacheTTL      time.Duration
	RelayInterval time.Duration
	RelayBatch    int
	StreamMaxLen  int64
}

type ProxyConfig struct {
	List []string
	File string
}

type BatchConfig struct {
	Brands                 []string
	MaxResultsPerBrand     int
	DelayBetweenBrands     time.Duration
	MinDevices             int
	MaxResultsPerCategory  int
	DelayBetweenCategories time.Duration
	ProgressFile           string
}

type QueueConfig struct {
	MaxSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// fileConfig is the optional YAML overlay for list-heavy settings.
type fileConfig struct {
	BotMarkers     []string `yaml:"bot_markers"`
	TransportChain []string `yaml:"transport_chain"`
	Brands         []string `yaml:"brands"`
	Proxies        []string `yaml:"proxies"`
	CORSOrigins    []string `yaml:"cors_origins"`
	DefaultSites   []string `yaml:"default_sites"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getStringSliceOrDefault("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Scraper: ScraperConfig{
			MaxRetries:     getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			Timeout:        getDurationOrDefault("SCRAPER_TIMEOUT", 30*time.Second),
			ProxyTimeout:   getDurationOrDefault("SCRAPER_PROXY_TIMEOUT", 15*time.Second),
			DetailDelayMin: getDurationOrDefault("SCRAPER_DETAIL_DELAY_MIN", 0),
			DetailDelayMax: getDurationOrDefault("SCRAPER_DETAIL_DELAY_MAX", 0),
			RatePerSecond:  getFloatOrDefault("SCRAPER_RATE_PER_SECOND", 2),
			RateBurst:      getIntOrDefault("SCRAPER_RATE_BURST", 2),
			RespectRobots:  getBoolOrDefault("SCRAPER_RESPECT_ROBOTS", false),
			BotMarkers:     getStringSliceOrDefault("SCRAPER_BOT_MARKERS", nil),
			TransportChain: getStringSliceOrDefault("SCRAPER_TRANSPORT_CHAIN", nil),
			UserAgent:      getEnvOrDefault("SCRAPER_USER_AGENT", ""),
			ParallelSites:  getBoolOrDefault("SCRAPER_PARALLEL_SITES", false),
			DefaultSites:   getStringSliceOrDefault("SCRAPER_DEFAULT_SITES", []string{"gsmarena"}),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "UTC"),
			ChallengeWait:  getDurationOrDefault("BROWSER_CHALLENGE_WAIT", 15*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "phone_catalog"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns: int32(getIntOrDefault("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			Addr:          getEnvOrDefault("REDIS_ADDR", ""),
			Password:      getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:            getIntOrDefault("REDIS_DB", 0),
			CacheTTL:      getDurationOrDefault("REDIS_CACHE_TTL", 15*time.Minute),
			RelayInterval: getDurationOrDefault("REDIS_RELAY_INTERVAL", 5*time.Second),
			RelayBatch:    getIntOrDefault("REDIS_RELAY_BATCH", 100),
			StreamMaxLen:  int64(getIntOrDefault("REDIS_STREAM_MAX_LEN", 100000)),
		},
		Proxy: ProxyConfig{
			List: getStringSliceOrDefault("PROXY_LIST", nil),
			File: getEnvOrDefault("PROXY_FILE", ""),
		},
		Batch: BatchConfig{
			Brands:                 getStringSliceOrDefault("BATCH_BRANDS", nil),
			MaxResultsPerBrand:     getIntOrDefault("MAX_RESULTS_PER_BRAND", 0),
			DelayBetweenBrands:     getDurationOrDefault("DELAY_BETWEEN_BRANDS", 10*time.Second),
			MinDevices:             getIntOrDefault("MIN_DEVICES", 0),
			MaxResultsPerCategory:  getIntOrDefault("MAX_RESULTS_PER_CATEGORY", 0),
			DelayBetweenCategories: getDurationOrDefault("DELAY_BETWEEN_CATEGORIES", 15*time.Second),
			ProgressFile:           getEnvOrDefault("BATCH_PROGRESS_FILE", "data/category_progress.json"),
		},
		Queue: QueueConfig{
			MaxSize: getIntOrDefault("QUEUE_MAX_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// overlay fills list settings from a YAML file. Environment variables win
// over the file.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	fill := func(key string, dst *[]string, src []string) {
		if os.Getenv(key) == "" && len(src) > 0 {
			*dst = src
		}
	}
	fill("SCRAPER_BOT_MARKERS", &c.Scraper.BotMarkers, fc.BotMarkers)
	fill("SCRAPER_TRANSPORT_CHAIN", &c.Scraper.TransportChain, fc.TransportChain)
	fill("SCRAPER_DEFAULT_SITES", &c.Scraper.DefaultSites, fc.DefaultSites)
	fill("BATCH_BRANDS", &c.Batch.Brands, fc.Brands)
	fill("PROXY_LIST", &c.Proxy.List, fc.Proxies)
	fill("SERVER_CORS_ORIGINS", &c.Server.CORSOrigins, fc.CORSOrigins)
	return nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	if c.Scraper.DetailDelayMin > c.Scraper.DetailDelayMax {
		return fmt.Errorf("SCRAPER_DETAIL_DELAY_MIN cannot be greater than SCRAPER_DETAIL_DELAY_MAX")
	}

	if c.Scraper.RatePerSecond < 0 {
		return fmt.Errorf("SCRAPER_RATE_PER_SECOND cannot be negative")
	}

	if c.Database.URL == "" && c.Database.Host != "" && c.Database.DBName == "" {
		return fmt.Errorf("DB_NAME is required when DB_HOST is set")
	}

	if c.Queue.MaxSize < 1 {
		return fmt.Errorf("QUEUE_MAX_SIZE must be at least 1")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// RequirePersistence fails when neither DATABASE_URL nor DB_HOST is set.
func (c *Config) RequirePersistence() error {
	if !c.Database.Enabled() {
		return errors.New("persistence requires DATABASE_URL or DB_HOST")
	}
	return nil
}

// Enabled reports whether a database was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != "" || d.Host != ""
}

// DSN returns DATABASE_URL verbatim or builds one from the DB_* settings.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", level)
	}
}

// NewLogger builds the root logger. Output goes to stderr so stdout stays
// free for results and MCP traffic.
func (l LoggingConfig) NewLogger() *slog.Logger {
	level, _ := ParseLevel(l.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
