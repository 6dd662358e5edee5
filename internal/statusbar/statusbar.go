package statusbar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/refresh"
)

// DefaultDelimiter separates block outputs in the joined status.
const DefaultDelimiter = " "

// Trigger names what caused a block run.
type Trigger string

const (
	TriggerInit    Trigger = "init"
	TriggerTimer   Trigger = "timer"
	TriggerRequest Trigger = "request"
)

// RunReport describes one finished block run. Hooks receive it after the
// block stored its result.
type RunReport struct {
	Block     string
	Mode      block.RunMode
	Trigger   Trigger
	StartedAt time.Time
	Duration  time.Duration
	Output    string
	HasOutput bool
	Err       error
}

// RunHook observes block runs. Hooks are called from the Init goroutines
// concurrently, so they must be safe for concurrent use.
type RunHook func(RunReport)

type Option func(*StatusBar)

func WithRunHook(h RunHook) Option {
	return func(s *StatusBar) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

// DuplicateBlocksError reports block names that occurred more than once.
// The first block of every name was kept; Recover returns that status bar.
type DuplicateBlocksError struct {
	Counts    map[string]int
	recovered *StatusBar
}

func (e *DuplicateBlocksError) Error() string {
	names := make([]string, 0, len(e.Counts))
	for n := range e.Counts {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s (%d times)", n, e.Counts[n]))
	}
	return "duplicate block names: " + strings.Join(parts, ", ")
}

// Recover returns the status bar built from the first occurrence of each name.
func (e *DuplicateBlocksError) Recover() *StatusBar { return e.recovered }

// StatusBar owns the blocks and joins their outputs into one status line.
type StatusBar struct {
	blocks    []*block.Block
	index     map[string]*block.Block
	delimiter string
	hooks     []RunHook
}

// New builds a status bar in the given order. Duplicate names keep their
// first block and yield a *DuplicateBlocksError carrying the usable bar.
func New(blocks []*block.Block, delimiter string, opts ...Option) (*StatusBar, error) {
	s := &StatusBar{
		blocks:    make([]*block.Block, 0, len(blocks)),
		index:     make(map[string]*block.Block, len(blocks)),
		delimiter: delimiter,
	}
	for _, o := range opts {
		o(s)
	}
	seen := make(map[string]int, len(blocks))
	for _, b := range blocks {
		seen[b.Name()]++
		if _, dup := s.index[b.Name()]; dup {
			continue
		}
		s.index[b.Name()] = b
		s.blocks = append(s.blocks, b)
	}
	counts := map[string]int{}
	for n, c := range seen {
		if c > 1 {
			counts[n] = c
		}
	}
	if len(counts) > 0 {
		return nil, &DuplicateBlocksError{Counts: counts, recovered: s}
	}
	return s, nil
}

// Blocks returns the blocks in status order.
func (s *StatusBar) Blocks() []*block.Block { return append([]*block.Block(nil), s.blocks...) }

// Block looks a block up by name.
func (s *StatusBar) Block(name string) (*block.Block, bool) {
	b, ok := s.index[name]
	return b, ok
}

func (s *StatusBar) Delimiter() string { return s.delimiter }

// Status joins the outputs of blocks that produced one, in order.
func (s *StatusBar) Status() string {
	var sb strings.Builder
	sb.Grow(len(s.blocks) * 16)
	first := true
	for _, b := range s.blocks {
		out, ok := b.Result()
		if !ok {
			continue
		}
		if !first {
			sb.WriteString(s.delimiter)
		}
		sb.WriteString(out)
		first = false
	}
	return sb.String()
}

// Init runs every block once, all at the same time, and waits for them.
func (s *StatusBar) Init(ctx context.Context) {
	var g errgroup.Group
	for _, b := range s.blocks {
		g.Go(func() error {
			s.runBlock(ctx, b, block.Normal(), TriggerInit)
			return nil
		})
	}
	_ = g.Wait()
}

// Run initialises the blocks, publishes the first status and then serves
// timer ticks and refresh requests one at a time, publishing after each
// run. It returns when ctx is cancelled, or once the request queue is
// closed and no block has a timer. A nil queue means no requests.
// Run closes out and releases q before returning.
func (s *StatusBar) Run(ctx context.Context, out chan<- string, q *refresh.Queue) error {
	defer close(out)
	var requests <-chan refresh.Request
	if q != nil {
		defer q.Release()
		requests = q.Requests()
	}

	s.Init(ctx)
	if !s.publish(ctx, out) {
		return nil
	}

	timerCtx, stopTimers := context.WithCancel(ctx)
	defer stopTimers()
	ticks := s.startTimers(timerCtx)

	for ticks != nil || requests != nil {
		var (
			b       *block.Block
			mode    = block.Normal()
			trigger Trigger
		)
		select {
		case <-ctx.Done():
			return nil
		case tb, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			b, trigger = tb, TriggerTimer
		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			found, known := s.index[req.Name]
			if !known {
				slog.Debug("refresh for unknown block ignored", "block", req.Name)
				continue
			}
			b, mode, trigger = found, req.Mode, TriggerRequest
		}
		s.runBlock(ctx, b, mode, trigger)
		if !s.publish(ctx, out) {
			return nil
		}
	}
	return nil
}

// startTimers starts one goroutine per periodic block. The returned channel
// is closed once every timer goroutine stopped, immediately if none exist.
func (s *StatusBar) startTimers(ctx context.Context) <-chan *block.Block {
	ticks := make(chan *block.Block)
	var wg sync.WaitGroup
	for _, b := range s.blocks {
		tk, ok := b.Scheduler()
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer tk.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tk.C:
				}
				select {
				case ticks <- b:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(ticks)
	}()
	return ticks
}

// publish hands the status to the receiver. A cancelled ctx means the
// receiver is gone and nothing more is worth doing.
func (s *StatusBar) publish(ctx context.Context, out chan<- string) bool {
	status := s.Status()
	select {
	case out <- status:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *StatusBar) runBlock(ctx context.Context, b *block.Block, mode block.RunMode, trigger Trigger) {
	start := time.Now()
	err := b.Run(ctx, mode)
	out, has := b.Result()
	rep := RunReport{
		Block:     b.Name(),
		Mode:      mode,
		Trigger:   trigger,
		StartedAt: start,
		Duration:  time.Since(start),
		Output:    out,
		HasOutput: has,
		Err:       err,
	}
	if err != nil {
		var re *block.RunError
		switch {
		case ctx.Err() != nil:
			slog.Debug("block run interrupted by shutdown", "block", b.Name())
		case errors.As(err, &re) && re.IsInternal():
			slog.Error("internal error while running block", "block", b.Name(), "mode", mode.String(), "error", err)
		default:
			slog.Warn("block command failed", "block", b.Name(), "mode", mode.String(), "error", err)
		}
	}
	for _, h := range s.hooks {
		h(rep)
	}
}
