package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := New(Config{Level: "warn"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = closer.Close() }()
	l.Info("hidden")
	l.Warn("shown", "block", "cpu")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "block=cpu") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Config{Format: FormatJSON}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello", "n", 3)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if rec["msg"] != "hello" || rec["n"] != float64(3) {
		t.Fatalf("record: %v", rec)
	}
}

func TestColorHandlerKeepsColorWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Config{Format: FormatColor, Level: "debug"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.With("block", "cpu").Error("boom")
	out := buf.String()
	if !strings.Contains(out, "\033[31mERROR\033[0m") || !strings.Contains(out, "block=cpu") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNewWithFileWritesBoth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asyncblocks.log")
	var buf bytes.Buffer
	l, closer, err := New(Config{File: FileConfig{Path: path}}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("to both")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Fatalf("console missing record")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"to both"`) {
		t.Fatalf("file record: %q", b)
	}
}

func TestFileWriterDefaults(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without path")
	}
	w := FileConfig{Path: filepath.Join(t.TempDir(), "x.log")}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected lumberjack logger, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", l)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := New(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error")
	}
}
