package commands

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "docops-processor",
	Short: "Checkpointed batching processor for sequenced document operations",
	Long: `docops-processor consumes sequenced document operations off a
partitioned log, coalesces bursts per document into double-buffered
batches, persists them to a document store, and derives a single
monotonic checkpoint offset safe to commit back to the log.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional, env vars override it)")
	rootCmd.AddCommand(serveCmd)
}
