package ipc

import (
	"context"
	"net"
	"strconv"

	"github.com/loykin/asyncblocks/internal/refresh"
)

func tcpAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// TCPServer listens on 127.0.0.1:Port. Port 0 picks a free port.
type TCPServer struct {
	server
	port int
}

func NewTCPServer(port int, q *refresh.Queue, opts serverOptions) *TCPServer {
	return &TCPServer{server: newServer(TransportTCP, q, opts), port: port}
}

// Run binds and serves until ctx is cancelled or the consumer is gone.
// It closes the queue's producer side on return.
func (s *TCPServer) Run(ctx context.Context) error {
	defer s.queue.Close()
	var lc net.ListenConfig
	addr := tcpAddr(s.port)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return bindError(addr, err)
	}
	return s.serve(ctx, ln)
}

// TCPNotifier sends to a daemon on 127.0.0.1:port.
type TCPNotifier struct {
	notifier
}

func NewTCPNotifier(port int) *TCPNotifier {
	return &TCPNotifier{notifier{network: "tcp", addr: tcpAddr(port)}}
}
