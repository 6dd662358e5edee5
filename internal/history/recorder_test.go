package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/statusbar"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
	fail   bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memSink) snapshot() ([]Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...), m.closed
}

func TestRecorder_DeliversAndDrainsOnShutdown(t *testing.T) {
	a, b := &memSink{}, &memSink{fail: true}
	r := NewRecorder(4, a, b)

	r.Record(Event{Block: "one"})
	r.Record(Event{Block: "two"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events, closed := a.snapshot()
	if len(events) != 2 || events[0].Block != "one" || events[1].Block != "two" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if !closed {
		t.Fatal("sink was not closed")
	}
	if _, closed := b.snapshot(); !closed {
		t.Fatal("failing sink was not closed")
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	r := NewRecorder(1, &memSink{})
	r.Record(Event{Block: "a"})
	r.Record(Event{Block: "b"})
	r.Record(Event{Block: "c"})
	if got := r.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped, got %d", got)
	}
}

func TestRecorder_Hook(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(0, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	hook := r.Hook()
	hook(statusbar.RunReport{
		Block:     "vol",
		Mode:      block.Button(4),
		Trigger:   statusbar.TriggerRequest,
		StartedAt: started,
		Duration:  time.Millisecond,
		Output:    "50%",
		HasOutput: true,
		Err:       errors.New("partial"),
	})

	deadline := time.After(2 * time.Second)
	for {
		events, _ := sink.snapshot()
		if len(events) == 1 {
			e := events[0]
			if !e.Clicked || e.Button != 4 || e.Trigger != "request" || e.Output != "50%" || e.Error != "partial" {
				t.Fatalf("unexpected event: %+v", e)
			}
			if !e.OccurredAt.Equal(started) || e.OccurredAt.Location() != time.UTC {
				t.Fatalf("expected UTC timestamp, got %v", e.OccurredAt)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("event not delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestFromReport_NormalMode(t *testing.T) {
	e := FromReport(statusbar.RunReport{Block: "b", Mode: block.Normal(), Trigger: statusbar.TriggerTimer})
	if e.Clicked || e.Button != 0 || e.Error != "" {
		t.Fatalf("unexpected event: %+v", e)
	}
}
