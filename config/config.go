package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Delivery   DeliveryConfig
	Settlement SettlementConfig
	Retry      RetryConfig
	Payout     PayoutConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string // mysql | memory
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	Issuer       string
}

type DeliveryConfig struct {
	MaxCodeAttempts       int
	MaxActivePerDeliverer int
	Currency              string
}

type SettlementConfig struct {
	Schedule          string // cron expression, seconds field included
	BatchSize         int
	Concurrency       int
	MaxAttempts       int
	DefaultCommission decimal.Decimal // percent
	PlatformOwnerID   string          // wallet owner for PLATFORM_FEE credits; empty disables them
	StaleAfter        time.Duration
}

type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

// PayoutConfig for the bank-transfer provider. An empty BaseURL selects the stub gateway.
type PayoutConfig struct {
	BaseURL        string
	Email          string
	Password       string
	WebhookBaseURL string // callback is WebhookBaseURL + /api/v1/webhooks/payout
	WebhookSecret  string
	Timeout        time.Duration
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func (c *ServerConfig) IsProduction() bool { return c.Env == "production" }

// Validate rejects combinations that are only meant for tests and local runs.
// The memory driver serializes every transaction on one process-wide mutex.
func (c *Config) Validate() error {
	if c.Server.IsProduction() && c.Database.Driver == "memory" {
		return errors.New("DB_DRIVER=memory is for tests and local runs only")
	}
	if c.Server.IsProduction() && c.Payout.BaseURL != "" && c.Payout.WebhookSecret == "" {
		return errors.New("PAYOUT_WEBHOOK_SECRET is required in production")
	}
	return nil
}

// Load returns the configuration: built-in defaults overridden by environment
// variables, with a .env file in the working directory loaded first if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8099"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "mysql"),
			DSN:             getEnv("DB_DSN", "ecodeli:ecodeli@tcp(localhost:3306)/ecodeli?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			Issuer:       getEnv("JWT_ISSUER", "ecodeli"),
		},
		Delivery: DeliveryConfig{
			MaxCodeAttempts:       getInt("DELIVERY_MAX_CODE_ATTEMPTS", 3),
			MaxActivePerDeliverer: getInt("DELIVERY_MAX_ACTIVE", 1),
			Currency:              getEnv("DELIVERY_CURRENCY", "EUR"),
		},
		Settlement: SettlementConfig{
			Schedule:          getEnv("SETTLEMENT_SCHEDULE", "0 */5 * * * *"),
			BatchSize:         getInt("SETTLEMENT_BATCH_SIZE", 100),
			Concurrency:       getInt("SETTLEMENT_CONCURRENCY", 8),
			MaxAttempts:       getInt("SETTLEMENT_MAX_ATTEMPTS", 5),
			DefaultCommission: getDecimal("SETTLEMENT_COMMISSION_PERCENT", decimal.NewFromInt(15)),
			PlatformOwnerID:   getEnv("SETTLEMENT_PLATFORM_OWNER_ID", ""),
			StaleAfter:        getDuration("SETTLEMENT_STALE_AFTER", 30*time.Minute),
		},
		Retry: RetryConfig{
			Attempts:  getInt("RETRY_ATTEMPTS", 3),
			BaseDelay: getDuration("RETRY_BASE_DELAY", 20*time.Millisecond),
		},
		Payout: PayoutConfig{
			BaseURL:        getEnv("PAYOUT_BASE_URL", ""),
			Email:          getEnv("PAYOUT_EMAIL", ""),
			Password:       getEnv("PAYOUT_PASSWORD", ""),
			WebhookBaseURL: getEnv("PAYOUT_WEBHOOK_BASE_URL", ""),
			WebhookSecret:  getEnv("PAYOUT_WEBHOOK_SECRET", ""),
			Timeout:        getDuration("PAYOUT_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			RPS:   getFloat("RATE_LIMIT_RPS", 20),
			Burst: getInt("RATE_LIMIT_BURST", 40),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}
