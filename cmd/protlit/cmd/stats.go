package cmd

import (
	"github.com/spf13/cobra"

	"github.com/protlit/protlit/internal/output"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show corpus and index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.meta.ListDocuments(ctx)
			if err != nil {
				return err
			}
			lexCount, err := a.lexical.Count()
			if err != nil {
				return err
			}
			snap := a.snapshots.Load()
			entIdx := a.entities.Load()

			var embedded int
			for _, d := range docs {
				if len(d.Embedding) > 0 {
					embedded++
				}
			}

			out := output.New(cmd.OutOrStdout())
			out.Heading("Corpus")
			out.Printf("  live papers:       %d\n", len(docs))
			out.Printf("  embedded:          %d\n", embedded)
			out.Printf("  lexically indexed: %d\n", lexCount)

			out.Heading("Snapshot")
			out.Printf("  generation:  %d\n", snap.Generation)
			out.Printf("  vectors:     %d\n", snap.Len())
			out.Printf("  dimensions:  %d\n", snap.Dimensions)
			if snap.ModelVersion != "" {
				out.Printf("  model:       %s\n", snap.ModelVersion)
			}

			if entIdx != nil {
				out.Heading("Entity index")
				out.Printf("  terms: %d\n", entIdx.Terms())
			}

			out.Heading("Caches")
			out.Printf("  cached rankings: %d\n", a.engine.CacheLen())
			return nil
		},
	}
}
