package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mselser95/polymarket-ledger/internal/app"
	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/internal/pipeline"
	"github.com/mselser95/polymarket-ledger/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trade ledger pipeline",
	Long: `Runs the trade ledger pipeline, which will:
1. Sync market metadata from the Gamma API into the token registry
2. Pull order fill events from the Goldsky subgraph into the event log
3. Transform fills into canonical trades appended to the ledger
4. Keep following both feeds until interrupted

Stages with a fresh checkpoint are skipped; use --force-refresh to rerun
everything from scratch, or --stream-only to skip the batch phase when all
checkpoints are known fresh.`,
	RunE: runPipeline,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("force-refresh", false, "Discard checkpoints and rerun the batch phase from scratch")
	runCmd.Flags().Bool("stream-only", false, "Skip the batch phase; fails unless every checkpoint is fresh")
	runCmd.Flags().Bool("no-stream", false, "Exit after the batch phase instead of following the feeds")
	runCmd.Flags().Bool("clear-checkpoints", false, "Delete all checkpoints before starting")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	// Optional .env for local development
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

	forceRefresh, _ := cmd.Flags().GetBool("force-refresh")
	streamOnly, _ := cmd.Flags().GetBool("stream-only")
	noStream, _ := cmd.Flags().GetBool("no-stream")
	clearCheckpoints, _ := cmd.Flags().GetBool("clear-checkpoints")

	if forceRefresh && streamOnly {
		return fmt.Errorf("--force-refresh and --stream-only are mutually exclusive")
	}

	if clearCheckpoints {
		store, err := checkpoint.NewFileStore(cfg.CheckpointDir, logger)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}

		err = store.ClearAll([]string{pipeline.StageMarkets, pipeline.StageEvents, pipeline.StageTrades})
		if err != nil {
			return fmt.Errorf("clear checkpoints: %w", err)
		}
	}

	opts := &app.Options{
		ForceRefresh: forceRefresh,
		StreamOnly:   streamOnly,
		NoStream:     noStream,
	}

	application, err := app.New(cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	return nil
}
