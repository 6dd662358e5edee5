package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/asyncblocks/internal/block"
)

func TestQueueDeliversInOrder(t *testing.T) {
	q := NewQueue(0)
	ctx := context.Background()
	reqs := []Request{
		{Name: "cpu", Mode: block.Normal()},
		{Name: "memory", Mode: block.Button(3)},
	}
	for _, r := range reqs {
		if err := q.Send(ctx, r); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	q.Close()
	var got []Request
	for r := range q.Requests() {
		got = append(got, r)
	}
	if len(got) != 2 || got[0] != reqs[0] || got[1] != reqs[1] {
		t.Fatalf("got %+v", got)
	}
	if err := q.Send(ctx, reqs[0]); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close: %v", err)
	}
	q.Close()
}

func TestQueueReleaseUnblocksSend(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()
	if err := q.Send(ctx, Request{Name: "a"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- q.Send(ctx, Request{Name: "b"}) }()

	select {
	case err := <-errc:
		t.Fatalf("send on full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	q.Release()
	q.Release()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrConsumerGone) {
			t.Fatalf("expected ErrConsumerGone, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("send still blocked after release")
	}
	if err := q.Send(ctx, Request{Name: "c"}); !errors.Is(err, ErrConsumerGone) {
		t.Fatalf("send after release: %v", err)
	}
}

func TestQueueSendHonoursContext(t *testing.T) {
	q := NewQueue(1)
	_ = q.Send(context.Background(), Request{Name: "a"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Send(ctx, Request{Name: "b"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
