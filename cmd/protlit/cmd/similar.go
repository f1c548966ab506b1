package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/protlit/protlit/internal/output"
	"github.com/protlit/protlit/internal/search"
)

// similarOptions holds CLI flags for similar.
type similarOptions struct {
	limit   int
	from    string
	to      string
	sources []string
	format  string
}

func newSimilarCmd() *cobra.Command {
	var opts similarOptions

	cmd := &cobra.Command{
		Use:   "similar <paper-id>",
		Short: "Find papers similar to a known paper",
		Long: `Find the nearest neighbors of an indexed paper by embedding.

The paper itself is excluded from the list. Papers not yet embedded
have no neighbors until the next ingestion embeds them.

Examples:
  protlit similar pmid-38012345
  protlit similar arxiv-2401.01234 --limit 5 --source biorxiv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimilar(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().StringVar(&opts.from, "from", "", "Only papers published on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Only papers published on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Filter by source: pubmed, arxiv, biorxiv, medrxiv (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSimilar(cmd *cobra.Command, paperID string, opts similarOptions) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	filter, err := parseFilter(opts.from, opts.to, opts.sources)
	if err != nil {
		return err
	}

	results, err := a.engine.Similar(ctx, paperID, opts.limit, filter)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return writeJSON(cmd, results)
	}
	printSimilar(output.New(cmd.OutOrStdout()), paperID, results)
	return nil
}

func printSimilar(out *output.Writer, paperID string, results []*search.Result) {
	if len(results) == 0 {
		out.Println("No similar papers for", paperID)
		return
	}
	for _, r := range results {
		title := r.DocID
		var meta string
		if r.Document != nil {
			title = r.Document.Title
			meta = fmt.Sprintf("%s · %s · %s", r.Document.Source,
				r.Document.PublishedAt.Format(time.DateOnly), r.DocID)
		}
		out.Printf("%2d. %.3f  %s\n", r.Rank, r.Score, title)
		if meta != "" {
			out.Dim("          %s", meta)
		}
	}
}
