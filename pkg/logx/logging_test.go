package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["message"] != "hello" {
		t.Fatalf("unexpected line: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should not be logged: %v", m)
	}
	if m["caller"] == nil || !strings.HasPrefix(m["caller"].(string), "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("error should be enabled")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("must not panic")
}

func TestFormatChatLine(t *testing.T) {
	line := `{"level":"warn","time":"x","message":"gateway failed","stage":"identity","caller":"a.go:1"}`
	got := formatChatLine([]byte(line))
	want := "[WARN] gateway failed\n- caller=a.go:1\n- stage=identity"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatChatLine([]byte("  not json \n")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
}

type recSender struct {
	mu    sync.Mutex
	lines []string
}

func (r *recSender) SendLogLine(_ context.Context, text string) error {
	r.mu.Lock()
	r.lines = append(r.lines, text)
	r.mu.Unlock()
	return nil
}

func (r *recSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	snd := &recSender{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, snd)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("not forwarded")
	log.Warn("forwarded")

	deadline := time.Now().Add(2 * time.Second)
	for snd.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	snd.mu.Lock()
	defer snd.mu.Unlock()
	if len(snd.lines) != 1 {
		t.Fatalf("expected 1 forwarded line, got %d: %v", len(snd.lines), snd.lines)
	}
	if !strings.HasPrefix(snd.lines[0], "[WARN] forwarded") {
		t.Fatalf("unexpected line %q", snd.lines[0])
	}
}
