package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/asyncblocks/internal/statusbar"
)

const (
	DefaultQueueSize = 256
	sendTimeout      = 5 * time.Second
)

// Recorder decouples the status bar from slow sinks: Record never blocks,
// a worker goroutine started by Run delivers events to every sink.
type Recorder struct {
	sinks   []Sink
	queue   chan Event
	dropped atomic.Uint64

	closeOnce sync.Once
}

func NewRecorder(queueSize int, sinks ...Sink) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{sinks: sinks, queue: make(chan Event, queueSize)}
}

// Record enqueues e, dropping it when the queue is full.
func (r *Recorder) Record(e Event) {
	select {
	case r.queue <- e:
	default:
		if r.dropped.Add(1) == 1 {
			slog.Warn("history queue full, dropping events", "block", e.Block)
		}
	}
}

// Hook adapts the recorder to a status bar run hook.
func (r *Recorder) Hook() statusbar.RunHook {
	return func(rep statusbar.RunReport) { r.Record(FromReport(rep)) }
}

// Dropped is the number of events lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run delivers events until ctx is cancelled, then drains what is queued
// and closes sinks implementing io.Closer.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.closeSinks()
	for {
		select {
		case e := <-r.queue:
			r.deliver(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.deliver(e)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history sink failed", "block", e.Block, "error", err)
		}
	}
}

func (r *Recorder) closeSinks() {
	r.closeOnce.Do(func() {
		var errs []error
		for _, s := range r.sinks {
			if c, ok := s.(io.Closer); ok {
				errs = append(errs, c.Close())
			}
		}
		if err := errors.Join(errs...); err != nil {
			slog.Warn("closing history sinks", "error", err)
		}
	})
}
