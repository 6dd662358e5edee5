package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/config"
	"github.com/loykin/asyncblocks/internal/ipc"
	"github.com/loykin/asyncblocks/internal/refresh"
)

// NotifyFlags holds flags for the notify command.
type NotifyFlags struct {
	Button  uint8
	Timeout time.Duration
}

func createNotifyCommand(globalFlags *GlobalFlags) *cobra.Command {
	notifyFlags := &NotifyFlags{}
	cmd := &cobra.Command{
		Use:   "notify <block> [<block>...]",
		Short: "Ask a running daemon to refresh blocks",
		Long: `Send one refresh request per block name to the running daemon over the
configured transport. With --button the blocks run in clicked mode and see
the button number in their environment.

Examples:
  asyncblocks notify clock
  asyncblocks notify volume --button 4
  asyncblocks notify battery network`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			mode := block.Normal()
			if cmd.Flags().Changed("button") {
				mode = block.Button(notifyFlags.Button)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), notifyFlags.Timeout)
			defer cancel()
			return runNotify(ctx, cfg.IPCConfig(), args, mode)
		},
	}
	cmd.Flags().Uint8Var(&notifyFlags.Button, "button", 0, "mouse button number (0-255); marks the request as a click")
	cmd.Flags().DurationVar(&notifyFlags.Timeout, "timeout", 2*time.Second, "connect and send timeout")
	return cmd
}

func runNotify(ctx context.Context, cfg ipc.Config, names []string, mode block.RunMode) error {
	n, err := ipc.NewNotifier(cfg)
	if err != nil {
		return err
	}
	for _, name := range names {
		if len(strings.Fields(name)) != 1 || strings.TrimSpace(name) != name {
			return fmt.Errorf("invalid block name %q: must be one word", name)
		}
		n.Push(refresh.Request{Name: name, Mode: mode})
	}
	return n.SendAll(ctx)
}
