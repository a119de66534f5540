package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validBase returns defaults adjusted so Validate passes in hedge mode.
func validBase() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "hedge", cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(600), cfg.Hedge.CreditScoreThreshold)
	assert.Equal(t, int64(700), cfg.Hedge.MinCreditScoreToClose)
	assert.Equal(t, 0.5, cfg.Hedge.HedgeRatio)
	assert.Equal(t, 10*time.Second, cfg.Hedge.PriceTTL.Duration)
	assert.Equal(t, time.Minute, cfg.Monitor.PollInterval.Duration)
	assert.Equal(t, 2*time.Second, cfg.TxQueue.RetryDelay.Duration)
	assert.False(t, cfg.Postgres.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.S3.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid hedge config",
			mutate: func(*Config) {},
		},
		{
			name: "monitor mode needs no wallet",
			mutate: func(c *Config) {
				c.Mode = "monitor"
				c.Wallet.PrivateKey = ""
			},
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "yolo" },
			wantErr: true,
			errMsg:  "unknown mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
			errMsg:  "unknown log_level",
		},
		{
			name:    "hedge mode without wallet",
			mutate:  func(c *Config) { c.Wallet.PrivateKey = "" },
			wantErr: true,
			errMsg:  "wallet: either private_key or encrypted_key_path",
		},
		{
			name: "encrypted key without password",
			mutate: func(c *Config) {
				c.Wallet.PrivateKey = ""
				c.Wallet.EncryptedKeyPath = "/keys/hedgebot.json"
			},
			wantErr: true,
			errMsg:  "key_password is required",
		},
		{
			name:    "hedge ratio out of range",
			mutate:  func(c *Config) { c.Hedge.HedgeRatio = 1.5 },
			wantErr: true,
			errMsg:  "hedge_ratio must be in (0, 1]",
		},
		{
			name:    "close threshold below trigger threshold",
			mutate:  func(c *Config) { c.Hedge.MinCreditScoreToClose = 500 },
			wantErr: true,
			errMsg:  "min_credit_score_to_close",
		},
		{
			name: "risk bands inverted",
			mutate: func(c *Config) {
				c.Hedge.HighRiskBelow = 700
				c.Hedge.MediumRiskBelow = 650
			},
			wantErr: true,
			errMsg:  "high_risk_below must be less than medium_risk_below",
		},
		{
			name: "postgres enabled without database",
			mutate: func(c *Config) {
				c.Postgres.Enabled = true
				c.Postgres.Database = ""
			},
			wantErr: true,
			errMsg:  "postgres: database must not be empty",
		},
		{
			name: "postgres pool bounds",
			mutate: func(c *Config) {
				c.Postgres.Enabled = true
				c.Postgres.PoolMinConns = 20
			},
			wantErr: true,
			errMsg:  "pool_min_conns must not exceed pool_max_conns",
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *Config) {
				c.S3.Enabled = true
				c.S3.Bucket = ""
			},
			wantErr: true,
			errMsg:  "s3: bucket must not be empty",
		},
		{
			name:    "zero ratelimit refill",
			mutate:  func(c *Config) { c.RateLimit.RefillRate = 0 },
			wantErr: true,
			errMsg:  "refill_rate must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[hedge]
asset = "BTC-USD"
credit_score_threshold = 550
rebalance_interval = "90s"

[redis]
enabled = true
addr = "redis.internal:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "BTC-USD", cfg.Hedge.Asset)
	assert.Equal(t, int64(550), cfg.Hedge.CreditScoreThreshold)
	assert.Equal(t, 90*time.Second, cfg.Hedge.RebalanceInterval.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)

	// Untouched sections keep their defaults.
	assert.Equal(t, int64(700), cfg.Hedge.MinCreditScoreToClose)
	assert.Equal(t, 10, cfg.TxQueue.MaxBatchSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"hedge\"\n"), 0o600))

	t.Setenv("HEDGEBOT_WALLET_PRIVATE_KEY", "cafebabe")
	t.Setenv("HEDGEBOT_HEDGE_CREDIT_SCORE_THRESHOLD", "625")
	t.Setenv("HEDGEBOT_MONITOR_POLL_INTERVAL", "30s")
	t.Setenv("HEDGEBOT_POSTGRES_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cafebabe", cfg.Wallet.PrivateKey)
	assert.Equal(t, int64(625), cfg.Hedge.CreditScoreThreshold)
	assert.Equal(t, 30*time.Second, cfg.Monitor.PollInterval.Duration)
	assert.True(t, cfg.Postgres.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
