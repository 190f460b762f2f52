package logx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestErrorSinkForwardsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifyd.log")
	svc, log := New(Config{
		Level:     "debug",
		File:      FileConfig{Enabled: true, Path: path},
		ErrorSink: ErrorSinkConfig{Enabled: true, RatePerSec: 10},
	})
	got := make(chan string, 4)
	svc.SetErrorSink(ErrorSinkFunc(func(text string) { got <- text }))

	log.Warn("just a warning", Err(errors.New("ignored")))
	log.With(String("comp", "test")).Error("send failed", Err(errors.New("offline")))

	select {
	case text := <-got:
		if text != "send failed: offline" {
			t.Fatalf("sink text = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error not forwarded")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case text := <-got:
		t.Fatalf("warning forwarded: %q", text)
	default:
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if !strings.Contains(out, `"message":"send failed"`) || !strings.Contains(out, `"comp":"test"`) || !strings.Contains(out, `"err":"offline"`) {
		t.Fatalf("file output:\n%s", out)
	}
}

func TestApplyChangesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifyd.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("hidden")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Info("shown")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "hidden") || !strings.Contains(string(b), "shown") {
		t.Fatalf("file output:\n%s", b)
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatal("IsZero wrong")
	}
	zero.Error("dropped")

	var buf bytes.Buffer
	NewWriter(&buf, "info").With(Int("n", 1)).Debug("below level")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info: %s", buf.String())
	}
	NewWriter(&buf, "info").With(Int("n", 1)).Info("hello", Bool("ok", true))
	if !strings.Contains(buf.String(), `"n":1`) || !strings.Contains(buf.String(), `"caller":"logx_test.go:`) {
		t.Fatalf("output: %s", buf.String())
	}
}

func TestSinkText(t *testing.T) {
	if got := sinkText("  boom ", nil); got != "boom" {
		t.Fatalf("got %q", got)
	}
	if got := sinkText("", errors.New("bad")); got != "bad" {
		t.Fatalf("got %q", got)
	}
	long := sinkText(strings.Repeat("é", 600), nil)
	if r := []rune(long); len(r) != sinkTextRunes || r[len(r)-1] != '…' {
		t.Fatalf("truncated to %d runes", len(r))
	}
}

func TestEveryLevelWrites(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug")
	log.Debug("d")
	log.Info("i")
	log.Warn("w")
	log.Error("e", Err(errors.New("x")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i, want := range []string{`"level":"debug"`, `"level":"info"`, `"level":"warn"`, `"level":"error"`} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d = %s, want %s", i, lines[i], want)
		}
	}
}
