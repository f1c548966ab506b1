package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/protlit/protlit/internal/config"
	"github.com/protlit/protlit/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := config.Load(cwd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default user config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.UserConfigPath()
			if _, err := os.Stat(path); err == nil {
				output.New(cmd.OutOrStdout()).Warning("config already exists at %s", path)
				return nil
			}
			if err := config.New().WriteYAML(path); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success("wrote %s", path)
			return nil
		},
	}
}
