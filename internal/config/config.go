// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Base directory for all databases (always absolute)
	AnalystAddress string // Wallet address whose ledger entries are valued
	LogLevel       string
	Port           int
	DevMode        bool

	// Portfolio parameters
	StartCash      float64 // Opening cash balance for the inception checkpoint
	AnnualInterest float64 // Annual rate charged on negative (levered) cash
	FeeRate        float64 // Proportional transaction cost on gross traded notional

	// Chain endpoints for the on-chain trade ledger
	PolygonRPCURL string
	SkaleRPCURL   string

	// Market data feed
	MarketDataBaseURL   string
	MarketDataKeyID     string
	MarketDataSecretKey string
	MarketDataRateLimit float64 // requests per second

	// Backup settings (S3-compatible object storage)
	Backup BackupConfig
}

// BackupConfig holds object-storage backup configuration
type BackupConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Keep      int // number of remote backups to retain
}

// Load reads configuration from environment variables, with .env file support
func Load() (*Config, error) {
	// Load .env file if present (ignore error - env vars may be set directly)
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir to absolute path: %w", err)
	}

	port, err := strconv.Atoi(getEnv("PORT", "8090"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	startCash, err := getEnvFloat("START_CASH", 10000)
	if err != nil {
		return nil, err
	}

	annualInterest, err := getEnvFloat("ANNUAL_INTEREST", 0.02)
	if err != nil {
		return nil, err
	}

	feeRate, err := getEnvFloat("FEE_RATE", 0.0005)
	if err != nil {
		return nil, err
	}

	rateLimit, err := getEnvFloat("MARKET_DATA_RATE_LIMIT", 3)
	if err != nil {
		return nil, err
	}

	keep, err := strconv.Atoi(getEnv("BACKUP_KEEP", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKUP_KEEP: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		AnalystAddress:      os.Getenv("ANALYST_ADDRESS"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                port,
		DevMode:             getEnv("DEV_MODE", "false") == "true",
		StartCash:           startCash,
		AnnualInterest:      annualInterest,
		FeeRate:             feeRate,
		PolygonRPCURL:       os.Getenv("POLYGON_RPC_URL"),
		SkaleRPCURL:         os.Getenv("SKALE_RPC_URL"),
		MarketDataBaseURL:   getEnv("MARKET_DATA_BASE_URL", "https://data.alpaca.markets"),
		MarketDataKeyID:     os.Getenv("MARKET_DATA_KEY_ID"),
		MarketDataSecretKey: os.Getenv("MARKET_DATA_SECRET_KEY"),
		MarketDataRateLimit: rateLimit,
		Backup: BackupConfig{
			Enabled:   getEnv("BACKUP_ENABLED", "false") == "true",
			Endpoint:  os.Getenv("BACKUP_S3_ENDPOINT"),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:    os.Getenv("BACKUP_S3_BUCKET"),
			AccessKey: os.Getenv("BACKUP_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BACKUP_S3_SECRET_KEY"),
			Keep:      keep,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.StartCash <= 0 {
		return fmt.Errorf("START_CASH must be positive, got %v", c.StartCash)
	}
	if c.AnnualInterest < 0 {
		return fmt.Errorf("ANNUAL_INTEREST must not be negative, got %v", c.AnnualInterest)
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("FEE_RATE must not be negative, got %v", c.FeeRate)
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("BACKUP_S3_BUCKET is required when backups are enabled")
	}
	return nil
}

// DatabasePath returns the path of a named database under the data dir
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
