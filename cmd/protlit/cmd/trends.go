package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/protlit/protlit/internal/output"
)

func newTrendsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Detect emerging research topics",
		Long: `Cluster recent paper embeddings into topics and compare each topic's
volume against the prior window. Topics growing significantly are
marked emerging.

The analysis is deterministic: the same corpus always yields the same
topics and statistics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.analyzer.Analyze(ctx, time.Now())
			if err != nil {
				return err
			}

			if format == "json" {
				return writeJSON(cmd, report)
			}

			out := output.New(cmd.OutOrStdout())
			out.Heading("Topic trends")
			out.Dim("window %s — %s vs prior %s — %s",
				report.Current.Start.Format(time.DateOnly),
				report.Current.End.Format(time.DateOnly),
				report.Prior.Start.Format(time.DateOnly),
				report.Prior.End.Format(time.DateOnly))
			out.Dim("%d current papers, %d prior\n", report.TotalCurrent, report.TotalPrior)

			if len(report.Topics) == 0 {
				out.Println("Not enough recent papers to cluster.")
				return nil
			}
			for _, t := range report.Topics {
				marker := "  "
				if t.Emerging {
					marker = "↑ "
				}
				out.Printf("%s%-40s %3d vs %3d  growth %+.0f%%  z=%.2f\n",
					marker, t.Label, t.CurrentCount, t.PriorCount,
					t.GrowthRate*100, t.ZScore)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}
