package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeLines(t *testing.T, data string) []Event {
	t.Helper()
	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		baseDir string
	}{
		{name: "valid directory", baseDir: t.TempDir()},
		{name: "creates directories if not exist", baseDir: filepath.Join(t.TempDir(), "nested", "path")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.baseDir, nil)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Close()

			if *logger.minLevel != LevelInfo {
				t.Errorf("minLevel = %v, want %v", *logger.minLevel, LevelInfo)
			}
			for _, name := range []string{"mashup.jsonl", "errors.jsonl"} {
				if _, err := os.Stat(filepath.Join(tt.baseDir, name)); os.IsNotExist(err) {
					t.Errorf("%s not created", name)
				}
			}
		})
	}
}

func TestNewLoggerInvalidDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLogger(filepath.Join(file, "sub"), nil); err == nil {
		t.Fatal("expected error when base dir is below a regular file")
	}
}

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	err := logger.Info(CategoryResource, "did_replace", "resource replaced", map[string]any{"resource": "timeSeriesData"})
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	events := decodeLines(t, buf.String())
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Level != LevelInfo || ev.Category != CategoryResource || ev.EventType != "did_replace" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp should be set automatically")
	}
	if ev.Details["resource"] != "timeSeriesData" {
		t.Errorf("details = %v", ev.Details)
	}
}

func TestLogEventWithTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := logger.Log(Event{Timestamp: ts, Level: LevelInfo, Category: CategoryBus}); err != nil {
		t.Fatal(err)
	}
	events := decodeLines(t, buf.String())
	if !events[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", events[0].Timestamp, ts)
	}
}

func TestLogErrorEventGoesToErrorFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	logger.Info(CategoryHTTP, "fetch", "ok", nil)
	logger.Error(CategoryHTTP, "fetch_failed", "boom", map[string]any{"status": 500})
	logger.Close()

	errorsLog, err := os.ReadFile(filepath.Join(dir, "errors.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	events := decodeLines(t, string(errorsLog))
	if len(events) != 1 || events[0].EventType != "fetch_failed" {
		t.Fatalf("errors.jsonl = %v", events)
	}

	all, err := ReadRecentEvents(filepath.Join(dir, "mashup.jsonl"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 events in main log, got %d", len(all))
	}
}

func TestSetMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)
	logger.SetMinLevel(LevelWarn)

	logger.Debug(CategoryWidget, "a", "", nil)
	logger.Info(CategoryWidget, "b", "", nil)
	logger.Warn(CategoryWidget, "c", "", nil)
	logger.Error(CategoryWidget, "d", "", nil)

	events := decodeLines(t, buf.String())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "c" || events[1].EventType != "d" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug,
		"WARN":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithStampsWidget(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf)
	child := root.With("dataProvider")

	child.Info(CategoryWidget, "use_item", "", nil)
	root.SetMinLevel(LevelError)
	child.Info(CategoryWidget, "suppressed", "", nil)

	events := decodeLines(t, buf.String())
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Widget != "dataProvider" {
		t.Errorf("widget = %q, want dataProvider", events[0].Widget)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	if err := logger.Info(CategoryBus, "x", "", nil); err != nil {
		t.Errorf("nil logger returned %v", err)
	}
}

func TestReadRecentEventsNonexistent(t *testing.T) {
	if _, err := ReadRecentEvents(filepath.Join(t.TempDir(), "missing.jsonl"), 5); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info(CategoryBus, "publish", "", map[string]any{"i": i})
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, buf.String())); got != 20 {
		t.Errorf("expected 20 events, got %d", got)
	}
}
