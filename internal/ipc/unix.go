package ipc

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"syscall"

	"github.com/loykin/asyncblocks/internal/refresh"
)

func unixAddr(c UnixConfig) string {
	if c.Abstract {
		return "@" + c.Path
	}
	return c.Path
}

// UnixServer listens on a Unix domain socket.
type UnixServer struct {
	server
	cfg UnixConfig
}

func NewUnixServer(cfg UnixConfig, q *refresh.Queue, opts serverOptions) *UnixServer {
	if cfg.Path == "" {
		cfg.Path = DefaultUnixPath
	}
	return &UnixServer{server: newServer(TransportUnix, q, opts), cfg: cfg}
}

// Run binds and serves until ctx is cancelled or the consumer is gone.
// A socket file it created is removed on every return path; a failed bind
// leaves any existing file alone. It closes the queue's producer side on return.
func (s *UnixServer) Run(ctx context.Context) error {
	defer s.queue.Close()
	ln, err := s.bind(ctx)
	if err != nil {
		return err
	}
	if !s.cfg.Abstract {
		defer func() {
			if err := os.Remove(s.cfg.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("failed to remove socket file", "path", s.cfg.Path, "error", err)
			}
		}()
	}
	return s.serve(ctx, ln)
}

func (s *UnixServer) bind(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	addr := unixAddr(s.cfg)
	ln, err := lc.Listen(ctx, "unix", addr)
	if err != nil && errors.Is(err, syscall.EADDRINUSE) && s.cfg.ForceRemove && !s.cfg.Abstract {
		slog.Warn("socket in use, removing stale file", "path", s.cfg.Path)
		if rmErr := os.Remove(s.cfg.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return nil, bindError(addr, rmErr)
		}
		ln, err = lc.Listen(ctx, "unix", addr)
	}
	if err != nil {
		return nil, bindError(addr, err)
	}
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	if !s.cfg.Abstract {
		if err := os.Chmod(s.cfg.Path, 0o600); err != nil {
			slog.Warn("failed to restrict socket permissions", "path", s.cfg.Path, "error", err)
		}
	}
	return ln, nil
}

// UnixNotifier sends to a daemon on a Unix domain socket.
type UnixNotifier struct {
	notifier
}

func NewUnixNotifier(cfg UnixConfig) *UnixNotifier {
	if cfg.Path == "" {
		cfg.Path = DefaultUnixPath
	}
	return &UnixNotifier{notifier{network: "unix", addr: unixAddr(cfg)}}
}
