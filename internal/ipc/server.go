package ipc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/loykin/asyncblocks/internal/ipc/frame"
	"github.com/loykin/asyncblocks/internal/metrics"
	"github.com/loykin/asyncblocks/internal/refresh"
)

type serverOptions struct {
	readTimeout time.Duration
	readLimit   int
	maxRecord   int
}

// server holds what the TCP and Unix variants share: the accept loop and
// the per-connection handler.
type server struct {
	transport Transport
	queue     *refresh.Queue
	opts      serverOptions

	ready chan struct{}
	addr  net.Addr
}

func newServer(t Transport, q *refresh.Queue, opts serverOptions) server {
	if opts.readLimit <= 0 {
		opts.readLimit = defaultReadLimit
	}
	return server{transport: t, queue: q, opts: opts, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound.
func (s *server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address; valid after Ready.
func (s *server) Addr() net.Addr { return s.addr }

// serve runs the accept loop on ln until ctx is cancelled or a handler
// finds the consumer gone. Connection errors never reach the caller.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	s.addr = ln.Addr()
	close(s.ready)

	sctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stop()
		_ = ln.Close()
		wg.Wait()
	}()
	context.AfterFunc(sctx, func() { _ = ln.Close() })

	slog.Info("ipc server listening", "transport", string(s.transport), "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if sctx.Err() != nil {
				if ctx.Err() == nil {
					slog.Info("ipc server stopping, status bar is gone")
				}
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return &OpError{Op: "accept", Addr: ln.Addr().String(), Err: err}
		}
		metrics.IncConnection(string(s.transport))
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(sctx, conn, stop)
		}()
	}
}

// handle reads records until EOF, an error, the idle timeout or the read
// limit, forwarding every decoded request. stop is called when the queue
// reports the consumer gone.
func (s *server) handle(ctx context.Context, conn net.Conn, stop context.CancelFunc) {
	defer func() { _ = conn.Close() }()
	unwatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer unwatch()

	ra := frame.NewReassembler(s.opts.maxRecord)
	buf := make([]byte, readBufferSize)
	total := 0
	for total < s.opts.readLimit {
		if s.opts.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
		}
		n, err := conn.Read(buf)
		total += n
		for _, f := range ra.Feed(buf[:n]) {
			if f.Err != nil {
				metrics.IncRequest(metrics.RequestMalformed)
				slog.Debug("dropping malformed ipc record", "error", f.Err)
				continue
			}
			if serr := s.queue.Send(ctx, f.Request); serr != nil {
				metrics.IncRequest(metrics.RequestDropped)
				if errors.Is(serr, refresh.ErrConsumerGone) {
					stop()
				}
				return
			}
			metrics.IncRequest(metrics.RequestAccepted)
		}
		if err != nil {
			if ra.Pending() > 0 {
				slog.Debug("ipc connection ended inside a record", "pending", ra.Pending())
			}
			return
		}
	}
	slog.Warn("ipc connection exceeded read limit", "limit", s.opts.readLimit, "remote", conn.RemoteAddr().String())
}
