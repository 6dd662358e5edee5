package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/asyncblocks/internal/config"
	"github.com/loykin/asyncblocks/pkg/client"
)

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Blocks     bool
	CACert     string
	Insecure   bool
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	statusFlags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the running daemon publishes",
		Long: `Query the status API of a running daemon (api.enabled must be true).

Examples:
  asyncblocks status
  asyncblocks status --blocks
  asyncblocks status --api-url https://127.0.0.1:44080/api --ca-cert ~/.config/asyncblocks/tls/tls_ca.crt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if statusFlags.APIUrl == "" {
				cfg, err := config.LoadDefault(globalFlags.ConfigPath)
				if err != nil {
					return err
				}
				statusFlags.APIUrl = apiURL(cfg)
			}
			c, err := client.New(client.Config{
				BaseURL:  statusFlags.APIUrl,
				Timeout:  statusFlags.APITimeout,
				CACert:   statusFlags.CACert,
				Insecure: statusFlags.Insecure,
			})
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), c, statusFlags.Blocks, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "daemon API URL (default: from api.listen and api.base_path)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&statusFlags.Blocks, "blocks", false, "list every block with its last run")
	cmd.Flags().StringVar(&statusFlags.CACert, "ca-cert", "", "CA certificate for an HTTPS API")
	cmd.Flags().BoolVar(&statusFlags.Insecure, "insecure", false, "skip TLS certificate verification")
	return cmd
}

func apiURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.API.TLS.Enabled {
		scheme = "https"
	}
	base := strings.TrimRight(cfg.API.BasePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return scheme + "://" + cfg.API.Listen + base
}

func runStatus(ctx context.Context, c *client.Client, blocks bool, out io.Writer) error {
	if !blocks {
		s, err := c.Status(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, s.Status)
		return err
	}
	bs, err := c.Blocks(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tOUTPUT\tRUNS\tCLICKS\tLAST RUN\tERROR")
	for _, b := range bs {
		last := "-"
		if !b.LastRun.IsZero() {
			last = b.LastRun.Local().Format(time.TimeOnly)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", b.Name, b.Output, b.Runs, b.Clicks, last, b.LastError)
	}
	return tw.Flush()
}
