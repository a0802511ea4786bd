package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the checkout service.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	DBDriver          string
	DatabaseDSN       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBMigrate         bool

	RedisAddr      string
	IdempotencyTTL time.Duration

	KafkaBrokers   string
	KafkaTopic     string
	RelayWorkers   int
	RelayInterval  time.Duration
	RelayBatchSize int

	PlacementTimeout time.Duration
	ShutdownTimeout  time.Duration
	LogLevel         string
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:     getStr("HTTP_ADDR", ":8080"),
		GRPCAddr:     getStr("GRPC_ADDR", ":50051"),
		DBDriver:     getStr("DB_DRIVER", "mysql"),
		DatabaseDSN:  getStr("DATABASE_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true"),
		RedisAddr:    strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		KafkaBrokers: strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getStr("KAFKA_TOPIC", "storefront.orders"),
		LogLevel:     getStr("LOG_LEVEL", "info"),
	}

	switch cfg.DBDriver {
	case "mysql", "pgx", "memory":
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER: %q, must be one of: mysql, pgx, memory", cfg.DBDriver)
	}

	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	var err error
	if cfg.DBMaxOpenConns, err = getPositiveInt("DB_MAX_OPEN_CONNS", 50); err != nil {
		return nil, err
	}
	if cfg.DBMaxIdleConns, err = getPositiveInt("DB_MAX_IDLE_CONNS", 25); err != nil {
		return nil, err
	}
	if cfg.DBConnMaxLifetime, err = getPositiveDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DBMigrate, err = getBool("DB_MIGRATE", false); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getPositiveDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL < time.Second {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL: must be at least 1s")
	}
	if cfg.RelayWorkers, err = getPositiveInt("RELAY_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.RelayInterval, err = getPositiveDuration("RELAY_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.RelayBatchSize, err = getPositiveInt("RELAY_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.PlacementTimeout, err = getPositiveDuration("PLACEMENT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getPositiveDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %d exceeds DB_MAX_OPEN_CONNS %d", cfg.DBMaxIdleConns, cfg.DBMaxOpenConns)
	}

	return cfg, nil
}

// pendingMargin covers commit and the idempotency write after a placement
// times out.
const pendingMargin = 5 * time.Second

// PendingIdempotencyTTL bounds how long an in-flight idempotency key blocks
// retries when its placement never completes.
func (c *Config) PendingIdempotencyTTL() time.Duration {
	return c.PlacementTimeout + pendingMargin
}

func getStr(key, defaultVal string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return v
}

func getPositiveInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, n)
	}
	return n, nil
}

func getPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", key, d)
	}
	return d, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
