package block

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/asyncblocks/internal/env"
)

// DefaultClickedEnvVar is the variable that carries the clicked button number.
const DefaultClickedEnvVar = "BUTTON"

// waitDelay bounds how long Run waits for stdout to drain after the command
// exits or is killed, so grandchildren holding the pipe cannot stall the bar.
const waitDelay = 2 * time.Second

var (
	ErrEmptyName    = errors.New("block name is empty")
	ErrEmptyCommand = errors.New("block command is empty")
	ErrInterval     = errors.New("block interval must be positive")
	ErrTimeout      = errors.New("block timeout must be positive")
	ErrClickedVar   = errors.New("clicked env variable name is invalid")
)

// RunMode tells Run whether the block was refreshed normally or clicked.
type RunMode struct {
	button  uint8
	clicked bool
}

// Normal is the mode used by timers and plain refresh requests.
func Normal() RunMode { return RunMode{} }

// Button is the mode of a click with mouse button n.
func Button(n uint8) RunMode { return RunMode{button: n, clicked: true} }

// Clicked reports the button number when the mode is a click.
func (m RunMode) Clicked() (uint8, bool) { return m.button, m.clicked }

func (m RunMode) String() string {
	if m.clicked {
		return "button(" + strconv.Itoa(int(m.button)) + ")"
	}
	return "normal"
}

// Block wraps one external command and the first line of its last output.
//
// A Block is owned by a single goroutine once running: Run must not be
// called concurrently on the same Block.
type Block struct {
	name       string
	command    string
	args       []string
	interval   time.Duration
	timeout    time.Duration
	clickedVar string
	env        *env.Env
	extraEnv   []string

	result    string
	hasResult bool
}

// Option configures optional Block settings.
type Option func(*Block) error

// WithInterval makes the block periodic. d must be positive.
func WithInterval(d time.Duration) Option {
	return func(b *Block) error {
		if d <= 0 {
			return fmt.Errorf("%w: %s", ErrInterval, d)
		}
		b.interval = d
		return nil
	}
}

// WithTimeout kills the command when a single run exceeds d.
func WithTimeout(d time.Duration) Option {
	return func(b *Block) error {
		if d <= 0 {
			return fmt.Errorf("%w: %s", ErrTimeout, d)
		}
		b.timeout = d
		return nil
	}
}

// WithClickedEnvVar overrides the variable name used for Button runs.
func WithClickedEnvVar(name string) Option {
	return func(b *Block) error {
		if name == "" || strings.ContainsAny(name, "= \t") {
			return fmt.Errorf("%w: %q", ErrClickedVar, name)
		}
		b.clickedVar = name
		return nil
	}
}

// WithEnv sets the environment composer and the block's own KEY=VALUE entries.
func WithEnv(e *env.Env, extra []string) Option {
	return func(b *Block) error {
		if e != nil {
			b.env = e
		}
		b.extraEnv = append([]string(nil), extra...)
		return nil
	}
}

// New validates the settings and returns a Block with no result yet.
func New(name, command string, args []string, opts ...Option) (*Block, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyCommand)
	}
	b := &Block{
		name:       name,
		command:    command,
		args:       append([]string(nil), args...),
		clickedVar: DefaultClickedEnvVar,
	}
	for _, o := range opts {
		if err := o(b); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if b.env == nil {
		b.env = env.New(nil)
	}
	return b, nil
}

func (b *Block) Name() string    { return b.name }
func (b *Block) Command() string { return b.command }

func (b *Block) Args() []string { return append([]string(nil), b.args...) }

// Interval returns the refresh period and whether the block is periodic.
func (b *Block) Interval() (time.Duration, bool) { return b.interval, b.interval > 0 }

// Result returns the stored output and whether any run has succeeded yet.
func (b *Block) Result() (string, bool) { return b.result, b.hasResult }

// Scheduler returns a ticker firing one interval from now and then every
// interval. Ticks the receiver is too slow for are dropped, not queued.
// The caller owns the ticker and must Stop it.
func (b *Block) Scheduler() (*time.Ticker, bool) {
	if b.interval <= 0 {
		return nil, false
	}
	return time.NewTicker(b.interval), true
}

type outcome struct {
	stdout []byte
	err    error
}

// Run executes the command once and stores the first line of its stdout.
// A non-zero exit status still counts as a result. Failures are *RunError.
func (b *Block) Run(ctx context.Context, mode RunMode) error {
	ch := make(chan outcome, 1)
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &RunError{Block: b.name, Kind: KindInternal, Err: fmt.Errorf("%w: %v", ErrRunnerPanic, r)}}
			}
		}()
		out, err := b.execute(ctx, mode)
		ch <- outcome{stdout: out, err: err}
	}()

	res, ok := <-ch
	if !ok {
		return &RunError{Block: b.name, Kind: KindInternal, Err: ErrResultLost}
	}
	if res.err != nil {
		return res.err
	}
	b.result = firstLine(res.stdout)
	b.hasResult = true
	return nil
}

func (b *Block) execute(ctx context.Context, mode RunMode) ([]byte, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	// #nosec G204 commands come from the user's own configuration
	cmd := exec.CommandContext(ctx, b.command, b.args...)
	var button []string
	if n, ok := mode.Clicked(); ok {
		button = []string{b.clickedVar + "=" + strconv.Itoa(int(n))}
	}
	cmd.Env = b.env.Compose(b.extraEnv, button)
	configureCmd(cmd)
	cmd.WaitDelay = waitDelay

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctx.Err() != nil {
		return nil, &RunError{Block: b.name, Kind: KindIO, Err: fmt.Errorf("%w: %w", ctx.Err(), err)}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if signaled(exitErr) {
			return nil, &RunError{Block: b.name, Kind: KindIO, Err: err}
		}
		slog.Debug("block exited with non-zero status",
			"block", b.name, "code", exitErr.ExitCode(), "mode", mode.String())
		return stdout.Bytes(), nil
	}
	return nil, &RunError{Block: b.name, Kind: KindIO, Err: err}
}

// firstLine keeps stdout up to the first '\n' and replaces invalid UTF-8.
func firstLine(out []byte) string {
	if i := bytes.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return strings.ToValidUTF8(string(out), "\uFFFD")
}
