package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createNotifyCommand(globalFlags),
		createConfigCommand(globalFlags),
		createStatusCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "asyncblocks",
		Short: "Asynchronous status bar for dwm",
		Long: `asyncblocks runs small commands ("blocks") on timers or on request and
joins their first output lines into the dwm status bar.

Examples:
  asyncblocks serve                      # run the daemon
  asyncblocks notify volume              # refresh the volume block
  asyncblocks notify volume --button 3   # report a right click on it
  asyncblocks config                     # print the effective configuration
  asyncblocks status --blocks            # ask the daemon what it shows`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (default: $XDG_CONFIG_HOME/asyncblocks/config.yaml)")
	return root
}
