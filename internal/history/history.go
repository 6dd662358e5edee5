package history

import (
	"context"
	"time"

	"github.com/loykin/asyncblocks/internal/statusbar"
)

// Event is one finished block run, exported to analytics sinks.
type Event struct {
	Block      string        `json:"block"`
	Trigger    string        `json:"trigger"`
	Clicked    bool          `json:"clicked"`
	Button     uint8         `json:"button"`
	OccurredAt time.Time     `json:"occurred_at"`
	Duration   time.Duration `json:"duration"`
	Output     string        `json:"output"`
	Error      string        `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// FromReport converts a status bar run report.
func FromReport(r statusbar.RunReport) Event {
	e := Event{
		Block:      r.Block,
		Trigger:    string(r.Trigger),
		OccurredAt: r.StartedAt.UTC(),
		Duration:   r.Duration,
		Output:     r.Output,
	}
	e.Button, e.Clicked = r.Mode.Clicked()
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}
