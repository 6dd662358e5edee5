//go:build linux

package ipc

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/loykin/asyncblocks/internal/refresh"
)

func TestUnixServerAbstractNamespace(t *testing.T) {
	cfg := UnixConfig{Path: fmt.Sprintf("asyncblocks-test-%d", os.Getpid()), Abstract: true}
	q := refresh.NewQueue(0)
	srv := NewUnixServer(cfg, q, serverOptions{})
	cancel, errc := start(t, srv)

	if _, err := os.Stat(cfg.Path); !os.IsNotExist(err) {
		t.Fatalf("abstract socket created a file: %v", err)
	}
	n := NewUnixNotifier(cfg)
	n.Push(pushed[1])
	if err := n.SendAll(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	assertRequests(t, receive(t, q, 1), pushed[1:2])
	cancel()
	waitStopped(t, errc)
}
