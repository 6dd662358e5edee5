// Package ipc carries refresh requests from notifier processes to the
// running daemon over TCP on localhost or a Unix domain socket.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/asyncblocks/internal/refresh"
)

// Transport selects the socket family used by both ends.
type Transport string

const (
	TransportTCP  Transport = "tcp"
	TransportUnix Transport = "uds"
)

const (
	DefaultTCPPort   = 44000
	DefaultUnixPath  = "/tmp/asyncblocks.socket"
	readBufferSize   = 1024
	defaultReadLimit = 64 * 1024
)

var ErrUnknownTransport = errors.New("unknown ipc transport")

// Server accepts notifier connections and forwards their requests.
type Server interface {
	Run(ctx context.Context) error
}

// Notifier buffers requests and delivers them in a single connection.
type Notifier interface {
	Push(r refresh.Request)
	SendAll(ctx context.Context) error
}

// Config is the transport section shared by the daemon and the notifier.
type Config struct {
	Transport Transport
	TCP       TCPConfig
	Unix      UnixConfig

	// ReadTimeout bounds how long a connection may stay idle. Zero disables it.
	ReadTimeout time.Duration
	// ReadLimit caps the bytes read from one connection.
	ReadLimit int
	// MaxRecord caps a single pending record.
	MaxRecord int
}

type TCPConfig struct {
	Port int
}

type UnixConfig struct {
	Path string
	// ForceRemove unlinks a stale socket file when the bind finds it in use.
	ForceRemove bool
	// Abstract binds in the Linux abstract namespace; no file is created.
	Abstract bool
}

// NewServer builds the server variant selected by cfg.Transport.
func NewServer(cfg Config, q *refresh.Queue) (Server, error) {
	opts := serverOptions{readTimeout: cfg.ReadTimeout, readLimit: cfg.ReadLimit, maxRecord: cfg.MaxRecord}
	switch cfg.Transport {
	case TransportTCP, "":
		return NewTCPServer(cfg.TCP.Port, q, opts), nil
	case TransportUnix:
		return NewUnixServer(cfg.Unix, q, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}

// NewNotifier builds the notifier variant selected by cfg.Transport.
func NewNotifier(cfg Config) (Notifier, error) {
	switch cfg.Transport {
	case TransportTCP, "":
		return NewTCPNotifier(cfg.TCP.Port), nil
	case TransportUnix:
		return NewUnixNotifier(cfg.Unix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}
