package refresh

import (
	"context"
	"errors"
	"sync"

	"github.com/loykin/asyncblocks/internal/block"
)

// DefaultCapacity bounds the requests waiting for the status bar.
const DefaultCapacity = 8

var (
	// ErrConsumerGone is returned by Send once the status bar stopped receiving.
	ErrConsumerGone = errors.New("refresh consumer is gone")
	ErrClosed       = errors.New("refresh queue is closed")
)

// Request asks the status bar to re-run one block.
type Request struct {
	Name string
	Mode block.RunMode
}

// Queue is the bounded hand-off between IPC connection handlers and the
// status bar. Any number of producers may Send; exactly one consumer reads
// Requests. Close marks the end of production, Release the consumer leaving.
type Queue struct {
	ch   chan Request
	gone chan struct{}

	mu     sync.RWMutex
	closed bool

	releaseOnce sync.Once
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:   make(chan Request, capacity),
		gone: make(chan struct{}),
	}
}

// Send blocks while the queue is full. It fails with ErrConsumerGone once
// the consumer released the queue, and with ctx.Err() on cancellation.
func (q *Queue) Send(ctx context.Context, r Request) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-q.gone:
		return ErrConsumerGone
	default:
	}
	select {
	case q.ch <- r:
		return nil
	case <-q.gone:
		return ErrConsumerGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Requests is the consumer side. It is closed after Close.
func (q *Queue) Requests() <-chan Request { return q.ch }

// Close ends production. Requests already queued are still delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Release tells producers nobody reads any more; blocked Sends return.
func (q *Queue) Release() {
	q.releaseOnce.Do(func() { close(q.gone) })
}

// Done is closed once the consumer released the queue.
func (q *Queue) Done() <-chan struct{} { return q.gone }
