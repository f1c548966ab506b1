package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/protlit/protlit/internal/output"
	"github.com/protlit/protlit/internal/search"
	"github.com/protlit/protlit/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit     int
	from      string
	to        string
	sources   []string
	format    string
	diversify bool

	semanticWeight float64
	lexicalWeight  float64
	entityWeight   float64
	recencyWeight  float64
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed literature",
		Long: `Search indexed papers with hybrid retrieval.

Semantic, full-text, and entity matches are fused with a recency decay
into one ranking. Weight flags re-balance the fusion per query.

Examples:
  protlit search "AlphaFold structure prediction"
  protlit search "PD-1 checkpoint inhibitors" --source pubmed --limit 5
  protlit search "base editing" --from 2026-01-01 --diversify
  protlit search "kinase inhibitors" --entity-weight 0.5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().StringVar(&opts.from, "from", "", "Only papers published on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Only papers published on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Filter by source: pubmed, arxiv, biorxiv, medrxiv (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.diversify, "diversify", false, "Re-rank near-duplicate results away from the top")
	cmd.Flags().Float64Var(&opts.semanticWeight, "semantic-weight", -1, "Semantic component weight")
	cmd.Flags().Float64Var(&opts.lexicalWeight, "lexical-weight", -1, "Lexical component weight")
	cmd.Flags().Float64Var(&opts.entityWeight, "entity-weight", -1, "Entity component weight")
	cmd.Flags().Float64Var(&opts.recencyWeight, "recency-weight", -1, "Recency component weight")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
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

	searchOpts := search.Options{
		Limit:     opts.limit,
		Filter:    filter,
		Diversify: opts.diversify,
	}
	if w, overridden := overrideWeights(a.cfg.Search.Weights, opts); overridden {
		searchOpts.Weights = &w
	}

	resp, err := a.engine.Search(ctx, query, searchOpts)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		return writeJSON(cmd, resp)
	}
	printResults(out, query, resp)
	return nil
}

func printResults(out *output.Writer, query string, resp *search.Response) {
	if resp.Degraded.Any() {
		out.Warning("degraded: %s", degradationNote(resp.Degraded))
	}
	if len(resp.Results) == 0 {
		out.Println("No results for", query)
		return
	}

	for _, r := range resp.Results {
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
		out.Dim("          sem %.2f  lex %.2f  ent %.2f  rec %.2f",
			r.Semantic, r.Lexical, r.Entity, r.Recency)
		if len(r.MatchedTerms) > 0 {
			out.Dim("          matched: %s", strings.Join(r.MatchedTerms, ", "))
		}
	}
	suffix := ""
	if resp.FromCache {
		suffix = " (cached)"
	}
	out.Dim("\n%d results in %s%s", len(resp.Results), resp.Took.Round(time.Millisecond), suffix)
}

func degradationNote(d search.Degradation) string {
	var parts []string
	if d.EmbedderUnavailable {
		parts = append(parts, "embedder unavailable")
	}
	if d.SemanticTimeout {
		parts = append(parts, "semantic path timed out")
	}
	if d.LexicalTimeout {
		parts = append(parts, "lexical path timed out")
	}
	if d.EntityTimeout {
		parts = append(parts, "entity path timed out")
	}
	if d.QueryTimeout {
		parts = append(parts, "query budget expired")
	}
	return strings.Join(parts, "; ")
}

// overrideWeights applies per-query weight flags over the configured
// profile. A flag left at its -1 sentinel keeps the configured value.
func overrideWeights(base search.Weights, opts searchOptions) (search.Weights, bool) {
	overridden := false
	if opts.semanticWeight >= 0 {
		base.Semantic = opts.semanticWeight
		overridden = true
	}
	if opts.lexicalWeight >= 0 {
		base.Lexical = opts.lexicalWeight
		overridden = true
	}
	if opts.entityWeight >= 0 {
		base.Entity = opts.entityWeight
		overridden = true
	}
	if opts.recencyWeight >= 0 {
		base.Recency = opts.recencyWeight
		overridden = true
	}
	return base, overridden
}

func parseFilter(from, to string, sources []string) (store.Filter, error) {
	var f store.Filter
	if from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return f, fmt.Errorf("invalid --from date %q: %w", from, err)
		}
		f.From = t
	}
	if to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return f, fmt.Errorf("invalid --to date %q: %w", to, err)
		}
		f.To = t
	}
	for _, s := range sources {
		f.Sources = append(f.Sources, store.Source(strings.ToLower(s)))
	}
	return f, f.Validate()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
