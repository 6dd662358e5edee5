package client

import "time"

// Status is the last line published to the bar.
type Status struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Published uint64    `json:"published"`
}

// BlockStatus is the last known outcome of one block.
type BlockStatus struct {
	Name         string    `json:"name"`
	Command      string    `json:"command"`
	IntervalSec  float64   `json:"interval_seconds,omitempty"`
	Output       string    `json:"output"`
	HasOutput    bool      `json:"has_output"`
	LastError    string    `json:"last_error,omitempty"`
	LastTrigger  string    `json:"last_trigger,omitempty"`
	LastRun      time.Time `json:"last_run,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
	Runs         uint64    `json:"runs"`
	Clicks       uint64    `json:"clicks"`
}

// Health is the liveness answer.
type Health struct {
	OK     bool   `json:"ok"`
	Uptime string `json:"uptime"`
	Blocks int    `json:"blocks"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
