package block

import (
	"errors"
	"fmt"
)

var (
	ErrRunnerPanic = errors.New("block runner panicked")
	ErrResultLost  = errors.New("block result channel closed without a value")
)

// ErrorKind separates failures caused by the command or its environment
// from failures of this program's own plumbing.
type ErrorKind int

const (
	KindIO ErrorKind = iota + 1
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// RunError is returned by Block.Run.
type RunError struct {
	Block string
	Kind  ErrorKind
	Err   error
}

func (e *RunError) Error() string {
	if e.Kind == KindInternal {
		return fmt.Sprintf("block %s: internal error: %v", e.Block, e.Err)
	}
	return fmt.Sprintf("block %s: command failed: %v", e.Block, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// IsIO reports a spawn, IO or signal failure of the command itself.
func (e *RunError) IsIO() bool { return e.Kind != KindInternal }

// IsInternal reports a bug in the runner, never caused by the user.
func (e *RunError) IsInternal() bool { return e.Kind == KindInternal }
