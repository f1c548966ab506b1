package cmd

import (
	"github.com/spf13/cobra"

	"github.com/protlit/protlit/internal/output"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <paper-id>",
		Short: "Remove a paper from search results",
		Long: `Tombstone a paper. The ID stays known, so re-ingesting the same ID
later revives it; until then the paper never appears in results.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.Delete(ctx, args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success("deleted %s", args[0])
			return nil
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <paper-id>",
		Short: "Re-extract and re-embed one paper",
		Long: `Drop a paper's entities and embedding and run it through the pipeline
again. Useful after an embedding model change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.pipeline.Reindex(ctx, args[0])
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Success("reindexed %s (generation %d)", args[0], summary.Generation)
			if summary.EmbeddingsSkipped > 0 {
				out.Warning("embedding skipped; paper remains text searchable")
			}
			return nil
		},
	}
}

func newInvalidateCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Clear cached query results",
		Long: `Eagerly clear cached rankings and similarity results. Without flags
the whole scope is cleared; date and source flags narrow it.

Normal ingestion invalidates lazily on its own; this command is for
administrative use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			scope, err := parseFilter(opts.from, opts.to, opts.sources)
			if err != nil {
				return err
			}
			removed := a.engine.Invalidate(scope)
			output.New(cmd.OutOrStdout()).Success("invalidated %d cached results", removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.from, "from", "", "Scope start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Scope end date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Scope by source (repeatable)")
	return cmd
}
