package server

import (
	"sort"
	"sync"
	"time"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/statusbar"
)

// BlockState is the last known outcome of one block.
type BlockState struct {
	Name          string    `json:"name"`
	Command       string    `json:"command"`
	IntervalSec   float64   `json:"interval_seconds,omitempty"`
	Output        string    `json:"output"`
	HasOutput     bool      `json:"has_output"`
	LastError     string    `json:"last_error,omitempty"`
	LastTrigger   string    `json:"last_trigger,omitempty"`
	LastRun       time.Time `json:"last_run,omitempty"`
	LastDuration  string    `json:"last_duration,omitempty"`
	Runs          uint64    `json:"runs"`
	Clicks        uint64    `json:"clicks"`
	registeredIdx int
}

// StatusSnapshot is the last status published to the bar.
type StatusSnapshot struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Published uint64    `json:"published"`
}

// State collects what the API reports. It is written by the status bar run
// hook and the publisher, and read by HTTP handlers.
type State struct {
	mu      sync.RWMutex
	status  StatusSnapshot
	blocks  map[string]*BlockState
	started time.Time
	now     func() time.Time
}

func NewState(blocks []*block.Block) *State {
	s := &State{
		blocks:  make(map[string]*BlockState, len(blocks)),
		started: time.Now(),
		now:     time.Now,
	}
	for i, b := range blocks {
		if _, dup := s.blocks[b.Name()]; dup {
			continue
		}
		bs := &BlockState{Name: b.Name(), Command: b.Command(), registeredIdx: i}
		if iv, ok := b.Interval(); ok {
			bs.IntervalSec = iv.Seconds()
		}
		s.blocks[b.Name()] = bs
	}
	return s
}

// SetStatus records a published status line.
func (s *State) SetStatus(status string) {
	s.mu.Lock()
	s.status.Status = status
	s.status.UpdatedAt = s.now()
	s.status.Published++
	s.mu.Unlock()
}

// Observe applies a block run report.
func (s *State) Observe(r statusbar.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.blocks[r.Block]
	if !ok {
		return
	}
	bs.Runs++
	if _, clicked := r.Mode.Clicked(); clicked {
		bs.Clicks++
	}
	bs.LastTrigger = string(r.Trigger)
	bs.LastRun = r.StartedAt
	bs.LastDuration = r.Duration.String()
	if r.HasOutput {
		bs.Output = r.Output
		bs.HasOutput = true
	}
	bs.LastError = ""
	if r.Err != nil {
		bs.LastError = r.Err.Error()
	}
}

// Hook adapts Observe to a status bar run hook.
func (s *State) Hook() statusbar.RunHook { return s.Observe }

func (s *State) Status() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Blocks returns copies in registration order.
func (s *State) Blocks() []BlockState {
	s.mu.RLock()
	out := make([]BlockState, 0, len(s.blocks))
	for _, bs := range s.blocks {
		out = append(out, *bs)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].registeredIdx < out[j].registeredIdx })
	return out
}

func (s *State) Block(name string) (BlockState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bs, ok := s.blocks[name]
	if !ok {
		return BlockState{}, false
	}
	return *bs, true
}

func (s *State) Uptime() time.Duration { return s.now().Sub(s.started) }
