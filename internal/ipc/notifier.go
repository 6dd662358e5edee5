package ipc

import (
	"context"
	"fmt"
	"net"

	"github.com/loykin/asyncblocks/internal/ipc/frame"
	"github.com/loykin/asyncblocks/internal/refresh"
)

type notifier struct {
	network string
	addr    string
	buf     []byte
	pushed  int
}

// Push buffers r; nothing is sent until SendAll.
func (n *notifier) Push(r refresh.Request) {
	n.buf = frame.AppendEncode(n.buf, r)
	n.pushed++
}

// Len is the number of buffered requests.
func (n *notifier) Len() int { return n.pushed }

// SendAll dials once, writes every buffered request and closes. The buffer
// is emptied whatever the outcome; there are no retries.
func (n *notifier) SendAll(ctx context.Context) error {
	data := n.buf
	n.buf, n.pushed = nil, 0

	var d net.Dialer
	conn, err := d.DialContext(ctx, n.network, n.addr)
	if err != nil {
		return dialError(n.addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if _, err := conn.Write(data); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send to %s: %w", n.addr, err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close %s: %w", n.addr, err)
	}
	return nil
}
