package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// OpError is a bind or dial failure with a hint for the user.
type OpError struct {
	Op   string
	Addr string
	Err  error
	Hint string
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *OpError) Unwrap() error { return e.Err }

func bindError(addr string, err error) error {
	e := &OpError{Op: "bind", Addr: addr, Err: err}
	if errors.Is(err, syscall.EADDRINUSE) {
		e.Hint = "check if another program is using it, or another instance is running"
	}
	return e
}

func dialError(addr string, err error) error {
	e := &OpError{Op: "dial", Addr: addr, Err: err}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, fs.ErrNotExist) {
		e.Hint = "check if asyncblocks is running"
	}
	return e
}
