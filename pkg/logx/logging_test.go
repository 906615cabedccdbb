package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "outbox"))
	log.Info("sent", Int("n", 3), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "outbox" || m["message"] != "sent" {
		t.Fatalf("unexpected line: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error must not be logged: %v", m)
	}
	if !strings.HasPrefix(m["caller"].(string), "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("dropped")
}

func TestAlertSinkRespectsMinLevel(t *testing.T) {
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: false}, Alerts: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})
	defer svc.Close()

	var got []Alert
	svc.SetAlertFunc(func(a Alert) { got = append(got, a) })

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	if len(got) != 1 {
		t.Fatalf("alerts = %d, want 1", len(got))
	}
	if got[0].Message != "loud" || got[0].Fields["k"] != "v" || got[0].Level != "warn" {
		t.Fatalf("unexpected alert: %+v", got[0])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDurationRendersAsString(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWriter(&buf, "info").Info("waited", Duration("took", 1500*time.Millisecond))
	if !strings.Contains(buf.String(), `"took":"1.5s"`) {
		t.Fatalf("line = %s", buf.String())
	}
}

func TestApplySwapsFileSink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()
	child := log.With(String("comp", "test"))

	child.Info("one")
	child.Debug("hidden")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}})
	child.Debug("two")

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(a), `"message":"one"`) || strings.Contains(string(a), "hidden") {
		t.Fatalf("first file = %s", a)
	}
	if !strings.Contains(string(b), `"message":"two"`) || !strings.Contains(string(b), `"comp":"test"`) {
		t.Fatalf("second file = %s", b)
	}
	if !child.Enabled(LevelDebug) {
		t.Fatal("derived logger should follow the new level")
	}
}

func TestStackTraceNamesCaller(t *testing.T) {
	t.Parallel()

	st := StackTrace()
	if !strings.Contains(st, "TestStackTraceNamesCaller") {
		t.Fatalf("stack = %s", st)
	}
	if Stack("  ") != nil {
		t.Fatal("blank stack should be dropped")
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got := clip(strings.Repeat("x", 20), 12); got != "xxxxxxxxx..." {
		t.Fatalf("clip = %q", got)
	}
	if got := clip("short", 12); got != "short" {
		t.Fatalf("clip = %q", got)
	}
}
