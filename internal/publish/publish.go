// Package publish delivers joined status lines to the display.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/loykin/asyncblocks/internal/metrics"
)

const (
	TypeXSetRoot = "xsetroot"
	TypeStdout   = "stdout"
	TypeNone     = "none"

	defaultXSetRoot = "xsetroot"
)

var ErrUnknownType = errors.New("unknown publisher type")

// Publisher shows one status line.
type Publisher interface {
	Publish(ctx context.Context, status string) error
}

// XSetRoot sets the root window name, which dwm draws as its bar text.
type XSetRoot struct {
	Command string
}

func (x XSetRoot) Publish(ctx context.Context, status string) error {
	bin := x.Command
	if bin == "" {
		bin = defaultXSetRoot
	}
	// #nosec G204 -- the binary comes from configuration, status is a single argument
	cmd := exec.CommandContext(ctx, bin, "-name", status)
	if out, err := cmd.CombinedOutput(); err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return fmt.Errorf("%s: %w", bin, err)
	}
	return nil
}

// Writer prints each status on its own line.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) Publish(_ context.Context, status string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := io.WriteString(w.w, status+"\n")
	return err
}

// Discard drops every status; the API and history still see them.
type Discard struct{}

func (Discard) Publish(context.Context, string) error { return nil }

// New picks a publisher by type; command overrides the xsetroot binary.
func New(typ, command string, stdout io.Writer) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", TypeXSetRoot:
		return XSetRoot{Command: command}, nil
	case TypeStdout:
		return NewWriter(stdout), nil
	case TypeNone:
		return Discard{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

// Loop publishes every status received until the channel closes or ctx is
// done. Failures are logged and counted, they never stop the loop.
// onPublish, when set, observes each status after a successful publish.
func Loop(ctx context.Context, statuses <-chan string, p Publisher, onPublish func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-statuses:
			if !ok {
				return nil
			}
			err := p.Publish(ctx, s)
			metrics.IncPublish(err != nil)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("publish status failed", "error", err)
				continue
			}
			if onPublish != nil {
				onPublish(s)
			}
		}
	}
}
