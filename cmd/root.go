package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "polymarket-ledger",
	Short: "Polymarket trade ledger pipeline",
	Long: `Polymarket trade ledger pipeline that syncs market metadata from the
Gamma API, pulls order fill events from the Goldsky subgraph, and transforms
them into a canonical append-only trade ledger.

Each stage is checkpointed: an interrupted run resumes from the last durable
cursor instead of starting over, and a recently completed stage is skipped
entirely.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	// Flags can be added here if needed
}
