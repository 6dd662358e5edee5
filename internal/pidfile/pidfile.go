// Package pidfile guards against two daemons sharing one socket.
package pidfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

var ErrAlreadyRunning = errors.New("another instance is running")

// File is an acquired pid file.
type File struct {
	path string
	pid  int
}

type meta struct {
	StartUnix int64 `json:"start_unix"`
}

// Acquire writes the current pid to path. It refuses when the pid recorded
// there belongs to a live process and replaces stale files.
func Acquire(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("empty pid file path")
	}
	pid, start, err := Read(path)
	switch {
	case err == nil:
		if alive(pid, start) && pid != os.Getpid() {
			return nil, fmt.Errorf("%w: pid %d (%s)", ErrAlreadyRunning, pid, path)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		// unreadable content is treated as stale
	}

	self := os.Getpid()
	var b strings.Builder
	b.WriteString(strconv.Itoa(self))
	b.WriteByte('\n')
	if st := procStartUnix(self); st > 0 {
		m, _ := json.Marshal(meta{StartUnix: st})
		b.Write(m)
		b.WriteByte('\n')
	}
	if err := writeAtomic(path, []byte(b.String())); err != nil {
		return nil, err
	}
	return &File{path: path, pid: self}, nil
}

// Release removes the file if it still records this process.
func (f *File) Release() error {
	if f == nil {
		return nil
	}
	pid, _, err := Read(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != f.pid {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *File) Path() string { return f.path }

// Read parses a pid file: the pid on the first line, then optional JSON
// metadata holding the process start time.
func Read(path string) (pid int, startUnix int64, err error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		return 0, 0, err
	}
	first, rest, _ := strings.Cut(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	var m meta
	if line, _, _ := strings.Cut(rest, "\n"); strings.TrimSpace(line) != "" {
		if json.Unmarshal([]byte(strings.TrimSpace(line)), &m) == nil {
			startUnix = m.StartUnix
		}
	}
	return pid, startUnix, nil
}

// alive reports whether pid runs and, when the start time is known, is
// still the same process rather than a reused pid.
func alive(pid int, startUnix int64) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil || !ok {
		return false
	}
	if startUnix > 0 {
		if cur := procStartUnix(pid); cur > 0 && cur != startUnix {
			return false
		}
	}
	return true
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
