package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/asyncblocks/internal/config"
)

func createConfigCommand(globalFlags *GlobalFlags) *cobra.Command {
	var showPath bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration the daemon would run with, defaults and
ASYNCBLOCKS_* environment overrides included, as YAML.

Examples:
  asyncblocks config
  asyncblocks config --path   # only print which file was used`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDefault(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			if showPath {
				p := cfg.Path()
				if p == "" {
					p = "(built-in defaults)"
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), p)
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&showPath, "path", false, "print the config file path instead of its content")
	return cmd
}
