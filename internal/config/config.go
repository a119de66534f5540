// Package config defines the top-level configuration for the hedge bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HEDGEBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Market    MarketConfig    `toml:"market"`
	Credit    CreditConfig    `toml:"credit"`
	Hedge     HedgeConfig     `toml:"hedge"`
	Monitor   MonitorConfig   `toml:"monitor"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	TxQueue   TxQueueConfig   `toml:"txqueue"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key used for ledger payloads.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LedgerConfig holds the lending ledger endpoints.
type LedgerConfig struct {
	QueryURL   string `toml:"query_url"`
	RelayerURL string `toml:"relayer_url"`
}

// MarketConfig holds the hedging venue endpoints and credentials.
type MarketConfig struct {
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
	ApiKey  string `toml:"api_key"`
}

// CreditConfig holds the credit score provider endpoint and credentials.
type CreditConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
}

// HedgeConfig holds the hedging engine parameters.
type HedgeConfig struct {
	Asset                 string   `toml:"asset"`
	CreditScoreThreshold  int64    `toml:"credit_score_threshold"`
	MinCreditScoreToClose int64    `toml:"min_credit_score_to_close"`
	HedgeRatio            float64  `toml:"hedge_ratio"`
	MaxHedgeAmount        float64  `toml:"max_hedge_amount"`
	HighRiskBelow         int64    `toml:"high_risk_below"`
	MediumRiskBelow       int64    `toml:"medium_risk_below"`
	RebalanceInterval     duration `toml:"rebalance_interval"`
	PriceTTL              duration `toml:"price_ttl"`
}

// MonitorConfig holds the credit monitoring loop parameters.
type MonitorConfig struct {
	PollInterval     duration `toml:"poll_interval"`
	MaxRetries       int      `toml:"max_retries"`
	MinCheckInterval duration `toml:"min_check_interval"`
}

// RateLimitConfig holds the token bucket admission parameters.
type RateLimitConfig struct {
	MaxTokens  float64 `toml:"max_tokens"`
	RefillRate float64 `toml:"refill_rate"`
}

// TxQueueConfig holds the ledger transaction queue drain parameters.
type TxQueueConfig struct {
	MaxBatchSize int      `toml:"max_batch_size"`
	MaxRetries   int      `toml:"max_retries"`
	RetryDelay   duration `toml:"retry_delay"`
	PollInterval duration `toml:"poll_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters. When Enabled is
// false the application falls back to in-memory stores.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// application falls back to in-process caches and a logging signal bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds the cold-storage export parameters.
type ArchiveConfig struct {
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration wraps time.Duration so TOML values can be written as "30s" / "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			QueryURL:   "http://localhost:8080",
			RelayerURL: "http://localhost:8081",
		},
		Market: MarketConfig{
			BaseURL: "https://api.hedgevenue.example.com",
			WsURL:   "wss://stream.hedgevenue.example.com/ws",
		},
		Credit: CreditConfig{
			BaseURL: "https://scores.lendguard.example.com",
		},
		Hedge: HedgeConfig{
			Asset:                 "ETH-USD",
			CreditScoreThreshold:  600,
			MinCreditScoreToClose: 700,
			HedgeRatio:            0.5,
			MaxHedgeAmount:        100_000,
			HighRiskBelow:         500,
			MediumRiskBelow:       650,
			RebalanceInterval:     duration{5 * time.Minute},
			PriceTTL:              duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			PollInterval:     duration{time.Minute},
			MaxRetries:       3,
			MinCheckInterval: duration{5 * time.Second},
		},
		RateLimit: RateLimitConfig{
			MaxTokens:  10,
			RefillRate: 2,
		},
		TxQueue: TxQueueConfig{
			MaxBatchSize: 10,
			MaxRetries:   3,
			RetryDelay:   duration{2 * time.Second},
			PollInterval: duration{250 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "hedgebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 20,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "hedgebot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Mode:     "hedge",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"hedge":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for consistency and returns a single
// error listing every violation found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: hedge, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is required whenever ledger writes can happen.
	if strings.ToLower(c.Mode) == "hedge" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Ledger endpoints
	if c.Ledger.QueryURL == "" {
		errs = append(errs, "ledger: query_url must not be empty")
	}
	if strings.ToLower(c.Mode) == "hedge" && c.Ledger.RelayerURL == "" {
		errs = append(errs, "ledger: relayer_url must not be empty for mode "+c.Mode)
	}

	// Market
	if c.Market.BaseURL == "" {
		errs = append(errs, "market: base_url must not be empty")
	}

	// Credit
	if c.Credit.BaseURL == "" {
		errs = append(errs, "credit: base_url must not be empty")
	}

	// Hedge engine
	if c.Hedge.Asset == "" {
		errs = append(errs, "hedge: asset must not be empty")
	}
	if c.Hedge.CreditScoreThreshold <= 0 {
		errs = append(errs, "hedge: credit_score_threshold must be > 0")
	}
	if c.Hedge.MinCreditScoreToClose < c.Hedge.CreditScoreThreshold {
		errs = append(errs, "hedge: min_credit_score_to_close must be >= credit_score_threshold")
	}
	if c.Hedge.HedgeRatio <= 0 || c.Hedge.HedgeRatio > 1 {
		errs = append(errs, fmt.Sprintf("hedge: hedge_ratio must be in (0, 1], got %g", c.Hedge.HedgeRatio))
	}
	if c.Hedge.MaxHedgeAmount <= 0 {
		errs = append(errs, "hedge: max_hedge_amount must be > 0")
	}
	if c.Hedge.HighRiskBelow >= c.Hedge.MediumRiskBelow {
		errs = append(errs, "hedge: high_risk_below must be less than medium_risk_below")
	}
	if c.Hedge.RebalanceInterval.Duration <= 0 {
		errs = append(errs, "hedge: rebalance_interval must be > 0")
	}
	if c.Hedge.PriceTTL.Duration <= 0 {
		errs = append(errs, "hedge: price_ttl must be > 0")
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be > 0")
	}
	if c.Monitor.MaxRetries < 0 {
		errs = append(errs, "monitor: max_retries must be >= 0")
	}

	// Rate limiter
	if c.RateLimit.MaxTokens <= 0 {
		errs = append(errs, "ratelimit: max_tokens must be > 0")
	}
	if c.RateLimit.RefillRate <= 0 {
		errs = append(errs, "ratelimit: refill_rate must be > 0")
	}

	// Transaction queue
	if c.TxQueue.MaxBatchSize < 1 {
		errs = append(errs, "txqueue: max_batch_size must be >= 1")
	}
	if c.TxQueue.MaxRetries < 0 {
		errs = append(errs, "txqueue: max_retries must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 / archive
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
