package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/internal/gamma"
	"github.com/mselser95/polymarket-ledger/internal/goldsky"
	"github.com/mselser95/polymarket-ledger/internal/pipeline"
	"github.com/mselser95/polymarket-ledger/internal/registry"
	"github.com/mselser95/polymarket-ledger/internal/storage"
	"github.com/mselser95/polymarket-ledger/pkg/cache"
	"github.com/mselser95/polymarket-ledger/pkg/config"
	"github.com/mselser95/polymarket-ledger/pkg/healthprobe"
	"github.com/mselser95/polymarket-ledger/pkg/httpserver"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	store, err := checkpoint.NewFileStore(cfg.CheckpointDir, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup checkpoint store: %w", err)
	}

	lookupCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	gammaClient := setupGammaClient(cfg, logger, lookupCache)
	eventClient := setupEventClient(cfg, logger)

	reg := registry.New(&registry.Config{
		Discovery:       gammaClient,
		Logger:          logger,
		NegativeTTL:     cfg.DiscoveryNegativeTTL,
		BreakerFailures: cfg.DiscoveryBreakerFailures,
		BreakerCooldown: cfg.DiscoveryBreakerCooldown,
	})

	marketLog, eventLog, parkedLog, ledger, err := setupLogs(cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	sink, err := setupSink(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage sink: %w", err)
	}

	orchestrator := pipeline.New(&pipeline.Config{
		Store:           store,
		Logger:          logger,
		FreshnessWindow: cfg.FreshnessWindow,
		ForceRefresh:    opts.ForceRefresh,
	})

	healthChecker := healthprobe.New()

	httpServer := httpserver.New(&httpserver.Config{
		Port:            cfg.HTTPPort,
		Logger:          logger,
		HealthChecker:   healthChecker,
		CheckpointStore: store,
		Registry:        reg,
	})

	a := &App{
		cfg:           cfg,
		opts:          opts,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		store:         store,
		gammaClient:   gammaClient,
		eventClient:   eventClient,
		registry:      reg,
		orchestrator:  orchestrator,
		marketLog:     marketLog,
		eventLog:      eventLog,
		parkedLog:     parkedLog,
		ledger:        ledger,
		sink:          sink,
		ctx:           ctx,
		cancel:        cancel,
	}

	a.marketStage = pipeline.NewMarketSyncStage(&pipeline.MarketSyncConfig{
		Client:    gammaClient,
		Registry:  reg,
		MarketLog: marketLog,
		BatchSize: cfg.MarketBatchSize,
		Logger:    logger,
	})
	a.eventStage = pipeline.NewEventSyncStage(&pipeline.EventSyncConfig{
		Client:    eventClient,
		EventLog:  eventLog,
		BatchSize: cfg.EventBatchSize,
		Logger:    logger,
	})
	a.tradeStage = pipeline.NewProcessStage(&pipeline.ProcessConfig{
		Registry:   reg,
		EventLog:   eventLog,
		ParkedLog:  parkedLog,
		Ledger:     ledger,
		Sink:       sink,
		FlushEvery: cfg.FlushEvery,
		Logger:     logger,
	})

	return a, nil
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 100000, // 10x expected max tracked tokens
		MaxCost:     10000,  // one entry per token lookup
		BufferItems: 64,     // Buffer size for Get operations
		Logger:      logger,
	})
}

func setupGammaClient(cfg *config.Config, logger *zap.Logger, lookupCache cache.Cache) *gamma.Client {
	return gamma.NewClient(&gamma.Config{
		BaseURL:           cfg.GammaURL,
		Logger:            logger,
		Cache:             lookupCache,
		CacheTTL:          cfg.DiscoveryCacheTTL,
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
	})
}

func setupEventClient(cfg *config.Config, logger *zap.Logger) *goldsky.Client {
	return goldsky.NewClient(&goldsky.Config{
		GraphQLURL:        cfg.GoldskyURL,
		APIKey:            cfg.GoldskyAPIKey,
		Logger:            logger,
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
	})
}

func setupLogs(cfg *config.Config, logger *zap.Logger) (*storage.MarketLog, *storage.EventLog, *storage.EventLog, *storage.Ledger, error) {
	marketLog, err := storage.OpenMarketLog(cfg.MarketLogPath(), logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open market log: %w", err)
	}

	eventLog, err := storage.OpenEventLog(cfg.EventLogPath(), logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open event log: %w", err)
	}

	parkedLog, err := storage.OpenEventLog(cfg.ParkedLogPath(), logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open parked log: %w", err)
	}

	ledger, err := storage.OpenLedger(cfg.LedgerPath(), logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open ledger: %w", err)
	}

	return marketLog, eventLog, parkedLog, ledger, nil
}

func setupSink(cfg *config.Config, logger *zap.Logger) (storage.TradeSink, error) {
	switch cfg.StorageMode {
	case "postgres":
		return storage.NewPostgresSink(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
	case "console":
		return storage.NewConsoleSink(logger), nil
	default:
		// Plain ledger mode: the CSV ledger is the only output.
		return nil, nil
	}
}
