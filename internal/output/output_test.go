package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockCloser implements io.Writer with Flush and Close support
type mockCloser struct {
	bytes.Buffer
	flushed bool
	closed  bool
}

func (m *mockCloser) Flush() error {
	m.flushed = true
	return nil
}

func (m *mockCloser) Close() error {
	m.closed = true
	return nil
}

// mockWriteError simulates write errors
type mockWriteError struct {
	err error
}

func (m *mockWriteError) Write(p []byte) (n int, err error) {
	return 0, m.err
}

func fixedBundle(t *testing.T) *Bundle {
	t.Helper()
	b, err := NewBundle(t.TempDir(), "session-1")
	if err != nil {
		t.Fatalf("NewBundle() error = %v", err)
	}
	b.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// =============================================================================
// JSONWriter Tests
// =============================================================================

func TestJSONWriter_WriteResult(t *testing.T) {
	tests := []struct {
		name   string
		pretty bool
		want   string
	}{
		{"compact", false, "{\"a\":1,\"url\":\"https://x.test/?a=1&b=2\"}\n"},
		{"pretty", true, "{\n  \"a\": 1,\n  \"url\": \"https://x.test/?a=1&b=2\"\n}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewJSONWriter(&buf, tt.pretty, false)
			v := map[string]interface{}{"a": 1, "url": "https://x.test/?a=1&b=2"}
			if err := w.WriteResult(v); err != nil {
				t.Fatalf("WriteResult() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestJSONWriter_WriteRecord(t *testing.T) {
	var buf bytes.Buffer

	NewJSONWriter(&buf, true, false).WriteRecord(map[string]int{"x": 1})
	if buf.Len() != 0 {
		t.Error("WriteRecord() should be a no-op outside stream mode")
	}

	w := NewJSONWriter(&buf, true, true)
	_ = w.WriteRecord(map[string]int{"x": 1})
	_ = w.WriteRecord(map[string]int{"x": 2})
	if got := buf.String(); got != "{\"x\":1}\n{\"x\":2}\n" {
		t.Errorf("stream output = %q", got)
	}
}

func TestJSONWriter_CloseAndFlush(t *testing.T) {
	m := &mockCloser{}
	w := NewJSONWriter(m, false, true)

	if err := w.Flush(); err != nil || !m.flushed {
		t.Errorf("Flush() err = %v, flushed = %v", err, m.flushed)
	}
	if err := w.Close(); err != nil || !m.closed {
		t.Errorf("Close() err = %v, closed = %v", err, m.closed)
	}

	_ = w.WriteRecord("ignored")
	if strings.Contains(m.String(), "ignored") {
		t.Error("writes after Close() should be dropped")
	}
}

func TestJSONWriter_WriteError(t *testing.T) {
	boom := errors.New("disk full")
	w := NewJSONWriter(&mockWriteError{err: boom}, false, false)
	if err := w.WriteResult(1); !errors.Is(err, boom) {
		t.Errorf("WriteResult() error = %v, want %v", err, boom)
	}
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, Config{Format: "jsonl"})
	_ = w.WriteRecord(1)
	if buf.String() != "1\n" {
		t.Errorf("jsonl writer output = %q", buf.String())
	}
}

// =============================================================================
// Bundle Tests
// =============================================================================

func TestNewBundle(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBundle(dir, "session-42")
	if err != nil {
		t.Fatalf("NewBundle() error = %v", err)
	}

	if info, err := os.Stat(b.Dir); err != nil || !info.IsDir() {
		t.Errorf("session dir not created: %v", err)
	}
	if b.HARPath() != filepath.Join(dir, "session-42", "recording.har") {
		t.Errorf("HARPath() = %s", b.HARPath())
	}

	for _, bad := range []string{"", "..", "a/b", `a\b`} {
		if _, err := NewBundle(dir, bad); err == nil {
			t.Errorf("NewBundle(%q) should fail", bad)
		}
	}
}

func TestBundle_AppendRunLog(t *testing.T) {
	b := fixedBundle(t)

	_ = b.AppendRunLog("Explore started: task=%q", "find the cart API")
	_ = b.AppendRunLog("Step %d: blocked detection", 3)

	data, err := os.ReadFile(b.RunLogPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "[2026-03-01T12:00:00Z] Explore started: task=\"find the cart API\"\n" +
		"[2026-03-01T12:00:00Z] Step 3: blocked detection\n"
	if string(data) != want {
		t.Errorf("run.log = %q, want %q", data, want)
	}
}

func TestBundle_RecordPageStats(t *testing.T) {
	b := fixedBundle(t)

	for step := 0; step < 3; step++ {
		if err := b.RecordPageStats(step, map[string]int{"links": step * 10}); err != nil {
			t.Fatalf("RecordPageStats() error = %v", err)
		}
	}
	_ = b.Close()

	f, err := os.Open(b.StatsPath())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	var lines []PageStatsRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec PageStatsRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		lines = append(lines, rec)
	}

	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if lines[2].Step != 2 {
		t.Errorf("last step = %d, want 2", lines[2].Step)
	}
}

func TestBundle_WriteSession(t *testing.T) {
	b := fixedBundle(t)

	if err := b.WriteSession(map[string]string{"id": "session-1", "task": "first"}); err != nil {
		t.Fatalf("WriteSession() error = %v", err)
	}
	if err := b.WriteSession(map[string]string{"id": "session-1", "task": "second"}); err != nil {
		t.Fatalf("WriteSession() error = %v", err)
	}

	data, _ := os.ReadFile(b.SessionPath())
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("session.json invalid: %v", err)
	}
	if got["task"] != "second" {
		t.Errorf("task = %q, want second", got["task"])
	}
	if _, err := os.Stat(b.SessionPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestBundle_ConcurrentRunLog(t *testing.T) {
	b := fixedBundle(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.AppendRunLog("line %d", i)
		}(i)
	}
	wg.Wait()

	data, _ := os.ReadFile(b.RunLogPath())
	if n := strings.Count(string(data), "\n"); n != 20 {
		t.Errorf("run.log has %d lines, want 20", n)
	}
}
