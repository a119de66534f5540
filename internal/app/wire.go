package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/lendguard/hedgebot/internal/blob/s3"
	"github.com/lendguard/hedgebot/internal/cache"
	"github.com/lendguard/hedgebot/internal/cache/redis"
	"github.com/lendguard/hedgebot/internal/config"
	"github.com/lendguard/hedgebot/internal/credit"
	"github.com/lendguard/hedgebot/internal/domain"
	"github.com/lendguard/hedgebot/internal/store/memory"
	"github.com/lendguard/hedgebot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Caches and messaging
	PriceCache domain.PriceCache
	ScoreCache domain.ScoreCache
	SignalBus  domain.SignalBus

	// Credit scores
	Scores domain.CreditScoreSource

	// Blob storage (nil unless S3 is enabled)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Position and audit stores ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	} else {
		deps.PositionStore = memory.NewPositionStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Caches and signal bus ---
	// The score cache is always in-process: its contents mirror the local
	// monitor's schedules, so sharing it across processes has no meaning.
	// TTL carries one poll interval of headroom so the previous cycle's
	// observation is still readable when the next tick compares against it.
	scoreCache := cache.NewScoreCache(2 * cfg.Monitor.PollInterval.Duration)
	scoreCache.StartSweeper(context.Background())
	closers = append(closers, scoreCache.Stop)
	deps.ScoreCache = scoreCache

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Hedge.PriceTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		priceCache := cache.NewPriceCache(cfg.Hedge.PriceTTL.Duration)
		priceCache.StartSweeper(context.Background())
		closers = append(closers, priceCache.Stop)
		deps.PriceCache = priceCache
		deps.SignalBus = &logBus{logger: logger.With(slog.String("component", "signal_bus"))}
	}

	// --- Credit scores ---
	deps.Scores = credit.NewClient(cfg.Credit.BaseURL, cfg.Credit.ApiKey)

	// --- S3 blob storage and archiver ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.PositionStore, deps.AuditStore)
	}

	return deps, cleanup, nil
}
