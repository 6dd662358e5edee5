package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/refresh"
)

var pushed = []refresh.Request{
	{Name: "cpu", Mode: block.Normal()},
	{Name: "memory", Mode: block.Button(3)},
	{Name: "battery", Mode: block.Button(1)},
}

type runner interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
	Addr() net.Addr
}

// start runs srv in the background and waits until it is bound.
func start(t *testing.T, srv runner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()
	select {
	case <-srv.Ready():
	case err := <-errc:
		cancel()
		t.Fatalf("server exited before binding: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("server did not bind")
	}
	t.Cleanup(cancel)
	return cancel, errc
}

func waitStopped(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func receive(t *testing.T, q *refresh.Queue, n int) []refresh.Request {
	t.Helper()
	var got []refresh.Request
	for len(got) < n {
		select {
		case r, ok := <-q.Requests():
			if !ok {
				t.Fatalf("queue closed after %d requests", len(got))
			}
			got = append(got, r)
		case <-time.After(5 * time.Second):
			t.Fatalf("got %d of %d requests", len(got), n)
		}
	}
	return got
}

func assertRequests(t *testing.T, got, want []refresh.Request) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("request %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func socketPath(t *testing.T) string {
	dir, err := os.MkdirTemp("", "ab")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestTCPServerNotifierEndToEnd(t *testing.T) {
	q := refresh.NewQueue(0)
	srv := NewTCPServer(0, q, serverOptions{readTimeout: time.Second})
	cancel, errc := start(t, srv)

	n := NewTCPNotifier(srv.Addr().(*net.TCPAddr).Port)
	for _, r := range pushed {
		n.Push(r)
	}
	if n.Len() != 3 {
		t.Fatalf("len: %d", n.Len())
	}
	if err := n.SendAll(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	assertRequests(t, receive(t, q, 3), pushed)

	cancel()
	waitStopped(t, errc)
	if _, ok := <-q.Requests(); ok {
		t.Fatalf("queue should be closed after the server stopped")
	}
}

func TestUnixServerNotifierEndToEnd(t *testing.T) {
	path := socketPath(t)
	q := refresh.NewQueue(0)
	srv := NewUnixServer(UnixConfig{Path: path}, q, serverOptions{})
	cancel, errc := start(t, srv)

	fi, err := os.Stat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		t.Fatalf("socket file missing: %v", err)
	}

	n := NewUnixNotifier(UnixConfig{Path: path})
	for _, r := range pushed {
		n.Push(r)
	}
	if err := n.SendAll(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	assertRequests(t, receive(t, q, 3), pushed)

	cancel()
	waitStopped(t, errc)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket file left behind: %v", err)
	}
}

func TestUnixServerFailedBindLeavesFile(t *testing.T) {
	path := socketPath(t)
	if err := os.WriteFile(path, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}
	srv := NewUnixServer(UnixConfig{Path: path}, refresh.NewQueue(0), serverOptions{})
	err := srv.Run(context.Background())
	var oe *OpError
	if !errors.As(err, &oe) || oe.Op != "bind" {
		t.Fatalf("expected bind error, got %v", err)
	}
	if !strings.Contains(err.Error(), "another instance") {
		t.Fatalf("missing hint: %v", err)
	}
	b, rerr := os.ReadFile(path)
	if rerr != nil || string(b) != "keep me" {
		t.Fatalf("existing file was touched: %q %v", b, rerr)
	}
}

func TestUnixServerForceRemovesStaleFile(t *testing.T) {
	path := socketPath(t)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	q := refresh.NewQueue(0)
	srv := NewUnixServer(UnixConfig{Path: path, ForceRemove: true}, q, serverOptions{})
	cancel, errc := start(t, srv)

	n := NewUnixNotifier(UnixConfig{Path: path})
	n.Push(pushed[0])
	if err := n.SendAll(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	assertRequests(t, receive(t, q, 1), pushed[:1])

	cancel()
	waitStopped(t, errc)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket file left behind: %v", err)
	}
}

func TestTCPServerAddrInUse(t *testing.T) {
	q := refresh.NewQueue(0)
	first := NewTCPServer(0, q, serverOptions{})
	start(t, first)

	second := NewTCPServer(first.Addr().(*net.TCPAddr).Port, refresh.NewQueue(0), serverOptions{})
	err := second.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "another instance") {
		t.Fatalf("expected addr in use with hint, got %v", err)
	}
}

func TestNotifierConnectionRefused(t *testing.T) {
	n := NewUnixNotifier(UnixConfig{Path: filepath.Join(t.TempDir(), "missing.sock")})
	n.Push(pushed[0])
	err := n.SendAll(context.Background())
	var oe *OpError
	if !errors.As(err, &oe) || !strings.Contains(oe.Hint, "running") {
		t.Fatalf("expected dial error with hint, got %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	if err := NewTCPNotifier(port).SendAll(context.Background()); !errors.As(err, &oe) {
		t.Fatalf("expected dial error, got %v", err)
	}
}

func TestServerStopsWhenConsumerGone(t *testing.T) {
	q := refresh.NewQueue(0)
	srv := NewTCPServer(0, q, serverOptions{})
	_, errc := start(t, srv)
	q.Release()

	n := NewTCPNotifier(srv.Addr().(*net.TCPAddr).Port)
	n.Push(pushed[0])
	if err := n.SendAll(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitStopped(t, errc)
}

func TestServerReassemblesSplitWrites(t *testing.T) {
	q := refresh.NewQueue(0)
	srv := NewTCPServer(0, q, serverOptions{readTimeout: 2 * time.Second})
	start(t, srv)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	for _, chunk := range []string{"REFRESH c", "pu\r", "\ngarbage\r\nBUTTON 3 mem", "ory\r\nREFRESH tail"} {
		if _, err := conn.Write([]byte(chunk)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	_ = conn.Close()
	assertRequests(t, receive(t, q, 2), pushed[:2])

	select {
	case r := <-q.Requests():
		t.Fatalf("unexpected request %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmptySendAllStillConnects(t *testing.T) {
	q := refresh.NewQueue(0)
	srv := NewTCPServer(0, q, serverOptions{})
	cancel, errc := start(t, srv)

	if err := NewTCPNotifier(srv.Addr().(*net.TCPAddr).Port).SendAll(context.Background()); err != nil {
		t.Fatalf("empty send: %v", err)
	}
	cancel()
	waitStopped(t, errc)
	if r, ok := <-q.Requests(); ok {
		t.Fatalf("unexpected request %+v", r)
	}
}

func TestNewServerAndNotifierSelectTransport(t *testing.T) {
	q := refresh.NewQueue(0)
	s, err := NewServer(Config{Transport: TransportUnix, Unix: UnixConfig{Path: "/tmp/x.sock"}}, q)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*UnixServer); !ok {
		t.Fatalf("expected UnixServer, got %T", s)
	}
	s, err = NewServer(Config{Transport: TransportTCP, TCP: TCPConfig{Port: 44000}}, q)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*TCPServer); !ok {
		t.Fatalf("expected TCPServer, got %T", s)
	}
	n, err := NewNotifier(Config{Transport: TransportUnix})
	if err != nil {
		t.Fatal(err)
	}
	if un, ok := n.(*UnixNotifier); !ok || un.addr != DefaultUnixPath {
		t.Fatalf("unexpected notifier %T %+v", n, n)
	}
	if _, err := NewServer(Config{Transport: "pigeon"}, q); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
	if _, err := NewNotifier(Config{Transport: "pigeon"}); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
}
