package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HEDGEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HEDGEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "HEDGEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "HEDGEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "HEDGEBOT_WALLET_KEY_PASSWORD")

	// ── Ledger ──
	setStr(&cfg.Ledger.QueryURL, "HEDGEBOT_LEDGER_QUERY_URL")
	setStr(&cfg.Ledger.RelayerURL, "HEDGEBOT_LEDGER_RELAYER_URL")

	// ── Market ──
	setStr(&cfg.Market.BaseURL, "HEDGEBOT_MARKET_BASE_URL")
	setStr(&cfg.Market.WsURL, "HEDGEBOT_MARKET_WS_URL")
	setStr(&cfg.Market.ApiKey, "HEDGEBOT_MARKET_API_KEY")

	// ── Credit ──
	setStr(&cfg.Credit.BaseURL, "HEDGEBOT_CREDIT_BASE_URL")
	setStr(&cfg.Credit.ApiKey, "HEDGEBOT_CREDIT_API_KEY")

	// ── Hedge ──
	setStr(&cfg.Hedge.Asset, "HEDGEBOT_HEDGE_ASSET")
	setInt64(&cfg.Hedge.CreditScoreThreshold, "HEDGEBOT_HEDGE_CREDIT_SCORE_THRESHOLD")
	setInt64(&cfg.Hedge.MinCreditScoreToClose, "HEDGEBOT_HEDGE_MIN_CREDIT_SCORE_TO_CLOSE")
	setFloat64(&cfg.Hedge.HedgeRatio, "HEDGEBOT_HEDGE_RATIO")
	setFloat64(&cfg.Hedge.MaxHedgeAmount, "HEDGEBOT_HEDGE_MAX_HEDGE_AMOUNT")
	setInt64(&cfg.Hedge.HighRiskBelow, "HEDGEBOT_HEDGE_HIGH_RISK_BELOW")
	setInt64(&cfg.Hedge.MediumRiskBelow, "HEDGEBOT_HEDGE_MEDIUM_RISK_BELOW")
	setDuration(&cfg.Hedge.RebalanceInterval, "HEDGEBOT_HEDGE_REBALANCE_INTERVAL")
	setDuration(&cfg.Hedge.PriceTTL, "HEDGEBOT_HEDGE_PRICE_TTL")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "HEDGEBOT_MONITOR_POLL_INTERVAL")
	setInt(&cfg.Monitor.MaxRetries, "HEDGEBOT_MONITOR_MAX_RETRIES")
	setDuration(&cfg.Monitor.MinCheckInterval, "HEDGEBOT_MONITOR_MIN_CHECK_INTERVAL")

	// ── Rate limiter ──
	setFloat64(&cfg.RateLimit.MaxTokens, "HEDGEBOT_RATELIMIT_MAX_TOKENS")
	setFloat64(&cfg.RateLimit.RefillRate, "HEDGEBOT_RATELIMIT_REFILL_RATE")

	// ── Transaction queue ──
	setInt(&cfg.TxQueue.MaxBatchSize, "HEDGEBOT_TXQUEUE_MAX_BATCH_SIZE")
	setInt(&cfg.TxQueue.MaxRetries, "HEDGEBOT_TXQUEUE_MAX_RETRIES")
	setDuration(&cfg.TxQueue.RetryDelay, "HEDGEBOT_TXQUEUE_RETRY_DELAY")
	setDuration(&cfg.TxQueue.PollInterval, "HEDGEBOT_TXQUEUE_POLL_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "HEDGEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "HEDGEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HEDGEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HEDGEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HEDGEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HEDGEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HEDGEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HEDGEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HEDGEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HEDGEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HEDGEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "HEDGEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "HEDGEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HEDGEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HEDGEBOT_REDIS_TLS_ENABLED")

	// ── S3 / archive ──
	setBool(&cfg.S3.Enabled, "HEDGEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "HEDGEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HEDGEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "HEDGEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HEDGEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HEDGEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HEDGEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HEDGEBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.Archive.RetentionDays, "HEDGEBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "HEDGEBOT_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "HEDGEBOT_MODE")
	setStr(&cfg.LogLevel, "HEDGEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
