package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/internal/gamma"
	"github.com/mselser95/polymarket-ledger/internal/pipeline"
	"github.com/mselser95/polymarket-ledger/internal/registry"
	"github.com/mselser95/polymarket-ledger/internal/storage"
	"github.com/mselser95/polymarket-ledger/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "Run a one-shot market metadata sync",
	Long: `Syncs market metadata from the Gamma API into the market log and exits.
Useful for pre-warming the token registry before a full pipeline run.`,
	RunE: syncMarkets,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(marketsCmd)
}

func syncMarkets(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := checkpoint.NewFileStore(cfg.CheckpointDir, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}

	marketLog, err := storage.OpenMarketLog(cfg.MarketLogPath(), logger)
	if err != nil {
		return fmt.Errorf("open market log: %w", err)
	}
	defer marketLog.Close()

	client := gamma.NewClient(&gamma.Config{
		BaseURL:           cfg.GammaURL,
		Logger:            logger,
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
	})

	reg := registry.New(&registry.Config{
		Discovery:       client,
		Logger:          logger,
		NegativeTTL:     cfg.DiscoveryNegativeTTL,
		BreakerFailures: cfg.DiscoveryBreakerFailures,
		BreakerCooldown: cfg.DiscoveryBreakerCooldown,
	})

	stage := pipeline.NewMarketSyncStage(&pipeline.MarketSyncConfig{
		Client:    client,
		Registry:  reg,
		MarketLog: marketLog,
		BatchSize: cfg.MarketBatchSize,
		Logger:    logger,
	})

	orchestrator := pipeline.New(&pipeline.Config{
		Store:           store,
		Logger:          logger,
		FreshnessWindow: cfg.FreshnessWindow,
	})

	err = orchestrator.RunIncremental(context.Background(), stage)
	if err != nil {
		return fmt.Errorf("sync markets: %w", err)
	}

	fmt.Printf("markets indexed: %d\n", reg.MarketCount())

	return nil
}
