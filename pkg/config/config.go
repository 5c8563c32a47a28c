package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Feed endpoints
	GammaURL      string
	GoldskyURL    string
	GoldskyAPIKey string

	// Data layout
	DataDir       string
	CheckpointDir string

	// Feed paging
	MarketBatchSize int
	EventBatchSize  int

	// Live phase polling
	MarketRefreshInterval time.Duration
	EventPollInterval     time.Duration

	// Checkpoint freshness
	FreshnessWindow time.Duration

	// Network retry policy
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// Discovery
	DiscoveryNegativeTTL     time.Duration
	DiscoveryBreakerFailures int
	DiscoveryBreakerCooldown time.Duration
	DiscoveryCacheTTL        time.Duration

	// Ledger flushing
	FlushEvery int

	// Storage
	StorageMode  string // "ledger", "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		GammaURL:      getEnvOrDefault("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		GoldskyURL:    getEnvOrDefault("GOLDSKY_SUBGRAPH_URL", "https://api.goldsky.com/api/public/project_cl6mb8i9h0003e201j6li0diw/subgraphs/orderbook-subgraph/0.0.1/gn"),
		GoldskyAPIKey: os.Getenv("GOLDSKY_API_KEY"),

		DataDir: getEnvOrDefault("DATA_DIR", "data"),

		MarketBatchSize: getIntOrDefault("MARKET_BATCH_SIZE", 500),
		EventBatchSize:  getIntOrDefault("EVENT_BATCH_SIZE", 1000),

		MarketRefreshInterval: getDurationOrDefault("MARKET_REFRESH_INTERVAL", 5*time.Minute),
		EventPollInterval:     getDurationOrDefault("EVENT_POLL_INTERVAL", 30*time.Second),

		FreshnessWindow: getDurationOrDefault("CHECKPOINT_FRESHNESS_WINDOW", time.Hour),

		MaxRetries:        getIntOrDefault("NETWORK_MAX_RETRIES", 3),
		InitialBackoff:    getDurationOrDefault("NETWORK_INITIAL_BACKOFF", time.Second),
		MaxBackoff:        getDurationOrDefault("NETWORK_MAX_BACKOFF", 30*time.Second),
		BackoffMultiplier: getFloat64OrDefault("NETWORK_BACKOFF_MULTIPLIER", 2.0),

		DiscoveryNegativeTTL:     getDurationOrDefault("DISCOVERY_NEGATIVE_TTL", 5*time.Minute),
		DiscoveryBreakerFailures: getIntOrDefault("DISCOVERY_BREAKER_FAILURES", 5),
		DiscoveryBreakerCooldown: getDurationOrDefault("DISCOVERY_BREAKER_COOLDOWN", time.Minute),
		DiscoveryCacheTTL:        getDurationOrDefault("DISCOVERY_CACHE_TTL", 24*time.Hour),

		FlushEvery: getIntOrDefault("LEDGER_FLUSH_EVERY", 5000),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", "ledger"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "polymarket"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "polymarket123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "polymarket_ledger"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	cfg.CheckpointDir = getEnvOrDefault("CHECKPOINT_DIR", filepath.Join(cfg.DataDir, ".checkpoints"))

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.GammaURL == "" {
		return fmt.Errorf("GAMMA_API_URL cannot be empty")
	}

	if c.GoldskyURL == "" {
		return fmt.Errorf("GOLDSKY_SUBGRAPH_URL cannot be empty")
	}

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}

	if c.MarketBatchSize <= 0 {
		return fmt.Errorf("MARKET_BATCH_SIZE must be positive, got %d", c.MarketBatchSize)
	}

	if c.EventBatchSize <= 0 {
		return fmt.Errorf("EVENT_BATCH_SIZE must be positive, got %d", c.EventBatchSize)
	}

	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("CHECKPOINT_FRESHNESS_WINDOW must be positive, got %v", c.FreshnessWindow)
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("NETWORK_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}

	if c.BackoffMultiplier < 1.0 {
		return fmt.Errorf("NETWORK_BACKOFF_MULTIPLIER must be >= 1.0, got %f", c.BackoffMultiplier)
	}

	if c.FlushEvery <= 0 {
		return fmt.Errorf("LEDGER_FLUSH_EVERY must be positive, got %d", c.FlushEvery)
	}

	switch c.StorageMode {
	case "ledger", "postgres", "console":
	default:
		return fmt.Errorf("STORAGE_MODE must be 'ledger', 'postgres' or 'console', got %q", c.StorageMode)
	}

	return nil
}

// LedgerPath returns the canonical trade ledger file path.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "processed", "trades.csv")
}

// EventLogPath returns the raw fill event log file path.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.DataDir, "raw", "order_fills.csv")
}

// MarketLogPath returns the market metadata log file path.
func (c *Config) MarketLogPath() string {
	return filepath.Join(c.DataDir, "raw", "markets.csv")
}

// ParkedLogPath returns the parked fill event file path.
func (c *Config) ParkedLogPath() string {
	return filepath.Join(c.DataDir, "raw", "parked_fills.csv")
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}
