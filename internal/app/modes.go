package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lendguard/hedgebot/internal/crypto"
	"github.com/lendguard/hedgebot/internal/domain"
	"github.com/lendguard/hedgebot/internal/hedge"
	"github.com/lendguard/hedgebot/internal/ledger"
	"github.com/lendguard/hedgebot/internal/market"
	"github.com/lendguard/hedgebot/internal/monitor"
	"github.com/lendguard/hedgebot/internal/ratelimit"
	"github.com/lendguard/hedgebot/internal/txqueue"
)

const ledgerEventsChannel = "ledger.events"

// HedgeMode starts the full engine: credit monitoring, hedge execution,
// ledger transaction draining, the price stream, and the archiver sweep.
func (a *App) HedgeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting hedge mode",
		slog.String("asset", a.cfg.Hedge.Asset),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Signing key and wallet.
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("hedge mode: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return fmt.Errorf("hedge mode: signer: %w", err)
	}
	wallet := ledger.NewRelayerWallet(a.cfg.Ledger.RelayerURL, signer)

	// Ledger client; events are fanned out to the signal bus.
	onEvent := func(ev domain.LedgerEvent) {
		payload, err := json.Marshal(map[string]any{
			"kind":            string(ev.Kind),
			"position_id":     ev.PositionID,
			"amount":          ev.Amount,
			"hedge_ratio_bps": ev.HedgeRatioBps,
			"timestamp":       ev.Timestamp.Unix(),
		})
		if err != nil {
			return
		}
		_ = deps.SignalBus.Publish(context.Background(), ledgerEventsChannel, payload)
	}
	ledgerClient := ledger.New(a.cfg.Ledger.QueryURL, signer, wallet, a.logger, onEvent)

	// Market clients.
	marketClient := market.NewClient(a.cfg.Market.BaseURL, a.cfg.Market.ApiKey)
	feed := market.NewWSFeed(a.cfg.Market.WsURL, a.logger)
	if err := feed.Connect(ctx); err != nil {
		return fmt.Errorf("hedge mode: price feed: %w", err)
	}
	defer func() { _ = feed.Close() }()

	// Stream venue ticks for the hedged asset into the price cache so
	// hedge evaluations read fresh prices without a REST round trip.
	unsubscribe, err := feed.SubscribePrice(ctx, a.cfg.Hedge.Asset, func(u domain.PriceUpdate) {
		if err := deps.PriceCache.SetPrice(context.Background(), u.Pair, u.Price, u.Timestamp); err != nil {
			a.logger.Warn("failed to cache streamed price",
				slog.String("pair", u.Pair),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("hedge mode: subscribe price: %w", err)
	}
	defer unsubscribe()

	// Ledger transaction queue.
	queue := txqueue.NewQueue()
	defer queue.Destroy()
	processor := txqueue.NewProcessor(queue, txqueue.ProcessorConfig{
		MaxBatchSize: a.cfg.TxQueue.MaxBatchSize,
		MaxRetries:   a.cfg.TxQueue.MaxRetries,
		RetryDelay:   a.cfg.TxQueue.RetryDelay.Duration,
		PollInterval: a.cfg.TxQueue.PollInterval.Duration,
	}, a.logger)
	g.Go(func() error {
		return processor.Run(ctx)
	})

	// Hedging service.
	limiter := ratelimit.New(a.cfg.RateLimit.MaxTokens, a.cfg.RateLimit.RefillRate)
	svc := hedge.NewService(a.cfg.Hedge.Asset, hedge.Config{
		CreditScoreThreshold:  a.cfg.Hedge.CreditScoreThreshold,
		MinCreditScoreToClose: a.cfg.Hedge.MinCreditScoreToClose,
		HedgeRatio:            a.cfg.Hedge.HedgeRatio,
		MaxHedgeAmount:        a.cfg.Hedge.MaxHedgeAmount,
		HighRiskBelow:         a.cfg.Hedge.HighRiskBelow,
		MediumRiskBelow:       a.cfg.Hedge.MediumRiskBelow,
		RebalanceInterval:     a.cfg.Hedge.RebalanceInterval.Duration,
		PriceTTL:              a.cfg.Hedge.PriceTTL.Duration,
	}, hedge.Deps{
		Store:   deps.PositionStore,
		Market:  marketClient,
		Prices:  deps.PriceCache,
		Limiter: limiter,
		Queue:   queue,
		Ledger:  ledgerClient,
		Scores:  deps.Scores,
		Bus:     deps.SignalBus,
		Audit:   deps.AuditStore,
		Logger:  a.logger,
	})
	if err := svc.StartRebalancing(ctx); err != nil {
		return fmt.Errorf("hedge mode: %w", err)
	}

	// Credit monitor feeding the hedging service.
	mon := monitor.New(deps.Scores, svc, deps.ScoreCache, monitor.Config{
		PollInterval:         a.cfg.Monitor.PollInterval.Duration,
		MaxRetries:           a.cfg.Monitor.MaxRetries,
		MinCheckInterval:     a.cfg.Monitor.MinCheckInterval.Duration,
		CreditScoreThreshold: a.cfg.Hedge.CreditScoreThreshold,
		HighRiskBelow:        a.cfg.Hedge.HighRiskBelow,
		MediumRiskBelow:      a.cfg.Hedge.MediumRiskBelow,
	}, a.logger, func(borrowerID string, err error) {
		a.logger.Warn("credit check failed",
			slog.String("borrower_id", borrowerID),
			slog.String("error", err.Error()),
		)
	})
	mon.AddObserver(&logObserver{logger: a.logger.With(slog.String("component", "credit_alerts"))})
	mon.AddObserver(&busObserver{bus: deps.SignalBus, logger: a.logger})
	defer mon.StopAll()

	// Resume monitoring for every borrower with an open ledger position.
	if err := a.resumePositions(ctx, deps, ledgerClient, signer.Address().Hex(), mon); err != nil {
		a.logger.WarnContext(ctx, "failed to resume ledger positions",
			slog.String("error", err.Error()),
		)
	}

	// Archiver sweep.
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver)
		})
	}

	return g.Wait()
}

// MonitorMode runs credit monitoring and alerting without a wallet. Hedge
// decisions are logged instead of executed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	mon := monitor.New(deps.Scores, &dryRunHedger{logger: a.logger}, deps.ScoreCache, monitor.Config{
		PollInterval:         a.cfg.Monitor.PollInterval.Duration,
		MaxRetries:           a.cfg.Monitor.MaxRetries,
		MinCheckInterval:     a.cfg.Monitor.MinCheckInterval.Duration,
		CreditScoreThreshold: a.cfg.Hedge.CreditScoreThreshold,
		HighRiskBelow:        a.cfg.Hedge.HighRiskBelow,
		MediumRiskBelow:      a.cfg.Hedge.MediumRiskBelow,
	}, a.logger, nil)
	mon.AddObserver(&logObserver{logger: a.logger.With(slog.String("component", "credit_alerts"))})
	mon.AddObserver(&busObserver{bus: deps.SignalBus, logger: a.logger})
	defer mon.StopAll()

	// Pick up borrowers from open positions already recorded in the store.
	open, err := deps.PositionStore.ListOpen(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to list open positions",
			slog.String("error", err.Error()),
		)
	}
	for _, pos := range open {
		if err := mon.StartMonitoring(ctx, pos.BorrowerID, pos.ScoreAtOpen, pos.LoanAmount); err != nil {
			a.logger.WarnContext(ctx, "failed to start monitoring",
				slog.String("borrower_id", pos.BorrowerID),
				slog.String("error", err.Error()),
			)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// resumePositions rehydrates the local store from the ledger after a restart
// and re-arms monitoring for each borrower with an open position.
func (a *App) resumePositions(ctx context.Context, deps *Dependencies, lc *ledger.Client, owner string, mon *monitor.Monitor) error {
	positions, err := lc.GetPositions(ctx, owner)
	if err != nil {
		return err
	}

	resumed := 0
	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}
		if err := deps.PositionStore.Put(ctx, pos); err != nil && !errors.Is(err, domain.ErrValidation) {
			a.logger.WarnContext(ctx, "failed to rehydrate position",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := mon.StartMonitoring(ctx, pos.BorrowerID, pos.ScoreAtOpen, pos.LoanAmount); err != nil {
			a.logger.WarnContext(ctx, "failed to start monitoring",
				slog.String("borrower_id", pos.BorrowerID),
				slog.String("error", err.Error()),
			)
			continue
		}
		resumed++
	}

	a.logger.InfoContext(ctx, "resumed monitoring from ledger",
		slog.Int("open_positions", len(positions)),
		slog.Int("resumed", resumed),
	)
	return nil
}

// runArchiver exports closed positions and stale audit rows to cold storage
// on the configured interval.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		cutoff := time.Now().UTC().Add(-retention)

		if n, err := archiver.ArchiveClosedPositions(ctx, cutoff); err != nil {
			a.logger.WarnContext(ctx, "position archive failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.InfoContext(ctx, "archived closed positions", slog.Int64("count", n))
		}

		if n, err := archiver.ArchiveAuditLog(ctx, cutoff); err != nil {
			a.logger.WarnContext(ctx, "audit archive failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.InfoContext(ctx, "archived audit rows", slog.Int64("count", n))
		}

		timer.Reset(interval)
	}
}
