package cmd

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/internal/pipeline"
	"github.com/mselser95/polymarket-ledger/internal/storage"
	"github.com/mselser95/polymarket-ledger/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint and data file status",
	Long: `Prints the checkpoint state of every pipeline stage together with the
tail positions of the data files, without touching the network.`,
	RunE: showStatus,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
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

	now := time.Now()

	fmt.Printf("%-10s %-12s %-14s %-8s %s\n", "STAGE", "STATUS", "CURSOR", "FRESH", "AGE")
	for _, id := range []string{pipeline.StageMarkets, pipeline.StageEvents, pipeline.StageTrades} {
		cp, ok := store.Get(id)
		if !ok {
			fmt.Printf("%-10s %-12s %-14s %-8s %s\n", id, "absent", "-", "-", "-")
			continue
		}

		fresh := "no"
		if cp.IsFresh(cfg.FreshnessWindow, now) {
			fresh = "yes"
		}

		fmt.Printf("%-10s %-12s %-14s %-8s %s\n",
			id,
			cp.Status,
			cp.Cursor,
			fresh,
			now.Sub(cp.CompletedAt).Truncate(time.Second))
	}

	fmt.Println()

	marketLog, err := storage.OpenMarketLog(cfg.MarketLogPath(), logger)
	if err != nil {
		return fmt.Errorf("open market log: %w", err)
	}
	defer marketLog.Close()

	count, err := marketLog.Count()
	if err != nil {
		return fmt.Errorf("count markets: %w", err)
	}
	fmt.Printf("markets stored:   %d\n", count)

	eventLog, err := storage.OpenEventLog(cfg.EventLogPath(), logger)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer eventLog.Close()

	lastEvent, err := eventLog.LastTimestamp()
	if err != nil {
		return fmt.Errorf("read event log tail: %w", err)
	}
	if lastEvent > 0 {
		fmt.Printf("last raw event:   %s\n", time.Unix(lastEvent, 0).UTC().Format(time.RFC3339))
	} else {
		fmt.Println("last raw event:   none")
	}

	ledger, err := storage.OpenLedger(cfg.LedgerPath(), logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	lastTrade, ok, err := ledger.LastTimestamp()
	if err != nil {
		return fmt.Errorf("read ledger tail: %w", err)
	}
	if ok {
		fmt.Printf("last trade:       %s\n", lastTrade.UTC().Format(time.RFC3339))
	} else {
		fmt.Println("last trade:       none")
	}

	return nil
}
