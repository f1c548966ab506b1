package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/protlit/protlit/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "protlit version %s (commit %s)\n",
				version.Version, version.Commit)
			return err
		},
	}
}
