package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/config"
	"github.com/loykin/asyncblocks/internal/history"
	"github.com/loykin/asyncblocks/internal/history/factory"
	"github.com/loykin/asyncblocks/internal/ipc"
	"github.com/loykin/asyncblocks/internal/logger"
	"github.com/loykin/asyncblocks/internal/metrics"
	"github.com/loykin/asyncblocks/internal/pidfile"
	"github.com/loykin/asyncblocks/internal/publish"
	"github.com/loykin/asyncblocks/internal/refresh"
	"github.com/loykin/asyncblocks/internal/server"
	"github.com/loykin/asyncblocks/internal/statusbar"
	apitls "github.com/loykin/asyncblocks/internal/tls"
)

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	PIDFile   string
	Publisher string
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status bar daemon",
		Long: `Run the status bar daemon: start every block, listen for refresh requests
and publish the joined status on every change. SIGHUP, SIGINT, SIGQUIT and
SIGTERM stop it.

Examples:
  asyncblocks serve
  asyncblocks serve --config ~/.config/asyncblocks/config.toml
  asyncblocks serve --publisher stdout   # print statuses instead of calling xsetroot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDefault(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			if serveFlags.PIDFile != "" {
				cfg.PIDFile = serveFlags.PIDFile
			}
			if serveFlags.Publisher != "" {
				cfg.Publisher.Type = serveFlags.Publisher
			}
			log, closer, err := logger.New(cfg.LoggerConfig(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&serveFlags.PIDFile, "pidfile", "", "write the daemon pid to this file and refuse to start twice")
	cmd.Flags().StringVar(&serveFlags.Publisher, "publisher", "", "override publisher.type (xsetroot, stdout, none)")
	return cmd
}

// runServe wires every component and blocks until ctx is cancelled or one
// of them fails. A failed bind ends the daemon with that error.
func runServe(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	blocks, err := cfg.Blocks()
	if err != nil {
		return err
	}
	pub, err := publish.New(cfg.Publisher.Type, cfg.Publisher.Command, stdout)
	if err != nil {
		return err
	}
	if _, ok := pub.(publish.XSetRoot); ok && os.Getenv("DISPLAY") == "" {
		slog.Warn("DISPLAY is not set, xsetroot will fail to publish")
	}

	opts := []statusbar.Option{statusbar.WithRunHook(observeRun)}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	var recorder *history.Recorder
	if cfg.History.Enabled {
		sinks, err := factory.NewSinks(cfg.History.Sinks)
		if err != nil {
			return err
		}
		recorder = history.NewRecorder(cfg.History.QueueSize, sinks...)
		opts = append(opts, statusbar.WithRunHook(recorder.Hook()))
	}

	var (
		state  *server.State
		apiTLS *tls.Config
	)
	if cfg.API.Enabled {
		if apiTLS, err = apitls.Setup(cfg.API.TLS); err != nil {
			return fmt.Errorf("api tls: %w", err)
		}
		state = server.NewState(blocks)
		opts = append(opts, statusbar.WithRunHook(state.Hook()))
	}

	bar, err := statusbar.New(blocks, cfg.StatusBar.Delimiter, opts...)
	var dup *statusbar.DuplicateBlocksError
	switch {
	case errors.As(err, &dup):
		slog.Warn("duplicate block names, keeping the first of each", "error", dup)
		bar = dup.Recover()
	case err != nil:
		return err
	}
	metrics.SetBlocks(len(bar.Blocks()))

	if cfg.PIDFile != "" {
		pf, err := pidfile.Acquire(cfg.PIDFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				slog.Warn("release pid file", "path", pf.Path(), "error", err)
			}
		}()
	}

	q := refresh.NewQueue(cfg.IPC.QueueSize)
	srv, err := ipc.NewServer(cfg.IPCConfig(), q)
	if err != nil {
		return err
	}

	statuses := make(chan string)
	var onPublish func(string)
	if state != nil {
		onPublish = state.SetStatus
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return bar.Run(gctx, statuses, q) })
	g.Go(func() error { return publish.Loop(gctx, statuses, pub, onPublish) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Listen) })
	}
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx) })
	}
	if state != nil {
		g.Go(func() error { return server.Serve(gctx, cfg.API.Listen, cfg.API.BasePath, state, apiTLS) })
	}

	slog.Info("asyncblocks started", "blocks", len(bar.Blocks()), "transport", cfg.IPC.Type, "config", cfg.Path())
	err = g.Wait()
	if err != nil {
		slog.Error("asyncblocks stopped", "error", err)
		return err
	}
	slog.Info("asyncblocks stopped")
	return nil
}

// observeRun feeds block run reports into the prometheus collectors.
func observeRun(r statusbar.RunReport) {
	result := metrics.ResultOK
	var re *block.RunError
	switch {
	case errors.As(r.Err, &re) && re.IsInternal():
		result = metrics.ResultInternalError
	case r.Err != nil:
		result = metrics.ResultIOError
	}
	metrics.ObserveBlockRun(r.Block, result, r.Duration.Seconds())
	if button, clicked := r.Mode.Clicked(); clicked {
		metrics.IncClick(r.Block, strconv.Itoa(int(button)))
	}
}
