// Package cmd provides the CLI commands for protlit.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/protlit/protlit/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	dataDir string
	verbose bool
)

// NewRootCmd creates the root command for the protlit CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protlit",
		Short: "Hybrid retrieval engine for protein science literature",
		Long: `Protlit indexes scientific papers and answers queries by fusing
semantic similarity, full-text relevance, entity matches, and recency
into one ranked list.

Typical usage:
  protlit ingest papers.json
  protlit search "CRISPR base editing efficiency"
  protlit trends`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("protlit version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data", "", "Data directory (default ~/.protlit)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror logs to stderr")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSimilarCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newTrendsCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newInvalidateCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
