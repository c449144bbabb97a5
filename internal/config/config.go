// Package config provides configuration management for the portfolio ledger.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Snapshot SnapshotConfig
	Risk     RiskDefaults
	Logging  LoggingConfig
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
}

// DatabaseConfig holds storage backend configuration
type DatabaseConfig struct {
	// Backend selects the snapshot store: memory, file, postgres or clickhouse.
	Backend    string
	FilePath   string
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SnapshotConfig holds snapshot history configuration
type SnapshotConfig struct {
	MaxPerPortfolio int
	RetentionDays   int
	AutoInterval    time.Duration
	PersistTimeout  time.Duration
	PriceCacheTTL   time.Duration
}

// RiskDefaults holds default risk limits applied to new portfolios
type RiskDefaults struct {
	RebalanceThreshold float64 // percentage points
	MaxPositionSize    float64 // percent of total value
	MaxDrawdown        float64 // percent
	StopLossPercent    float64
	TakeProfitPercent  float64
	RiskFreeRate       float64 // annual, fractional (0.02 = 2%)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from .env file and environment variables
func Load() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RateLimitRPS:    getEnvAsInt("SERVER_RATE_LIMIT_RPS", 50),
			RateLimitBurst:  getEnvAsInt("SERVER_RATE_LIMIT_BURST", 100),
		},
		Database: DatabaseConfig{
			Backend:  getEnv("SNAPSHOT_BACKEND", "memory"),
			FilePath: getEnv("SNAPSHOT_FILE_PATH", "./data/snapshots"),
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio_ledger"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Snapshot: SnapshotConfig{
			MaxPerPortfolio: getEnvAsInt("SNAPSHOT_MAX_PER_PORTFOLIO", 1000),
			RetentionDays:   getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 90),
			AutoInterval:    getEnvAsDuration("SNAPSHOT_AUTO_INTERVAL", 0),
			PersistTimeout:  getEnvAsDuration("SNAPSHOT_PERSIST_TIMEOUT", 10*time.Second),
			PriceCacheTTL:   getEnvAsDuration("PRICE_CACHE_TTL", time.Minute),
		},
		Risk: RiskDefaults{
			RebalanceThreshold: getEnvAsFloat("RISK_REBALANCE_THRESHOLD", 5),
			MaxPositionSize:    getEnvAsFloat("RISK_MAX_POSITION_SIZE", 25),
			MaxDrawdown:        getEnvAsFloat("RISK_MAX_DRAWDOWN", 20),
			StopLossPercent:    getEnvAsFloat("RISK_STOP_LOSS_PERCENT", 10),
			TakeProfitPercent:  getEnvAsFloat("RISK_TAKE_PROFIT_PERCENT", 50),
			RiskFreeRate:       getEnvAsFloat("RISK_FREE_RATE", 0.02),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
