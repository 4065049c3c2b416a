package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
)

// Artifact file names inside a session directory.
const (
	HARFile       = "recording.har"
	RunLogFile    = "run.log"
	PageStatsFile = "page-stats.jsonl"
	SessionFile   = "session.json"
)

// Bundle is the artifact directory of one exploration session.
type Bundle struct {
	ID  string
	Dir string

	mu  sync.Mutex
	jw  *JSONWriter
	now func() time.Time
}

// NewBundle creates <sessionsDir>/<id>.
func NewBundle(sessionsDir, id string) (*Bundle, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, errs.NewConfigError(fmt.Sprintf("invalid session id %q", id))
	}
	dir := filepath.Join(sessionsDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.NewStorageError("create session dir", err)
	}
	return &Bundle{ID: id, Dir: dir, now: time.Now}, nil
}

func (b *Bundle) HARPath() string     { return filepath.Join(b.Dir, HARFile) }
func (b *Bundle) RunLogPath() string  { return filepath.Join(b.Dir, RunLogFile) }
func (b *Bundle) StatsPath() string   { return filepath.Join(b.Dir, PageStatsFile) }
func (b *Bundle) SessionPath() string { return filepath.Join(b.Dir, SessionFile) }

// AppendRunLog appends a timestamped line to run.log.
func (b *Bundle) AppendRunLog(format string, args ...interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.RunLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.NewStorageError("open run log", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", b.now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	if _, err := f.WriteString(line); err != nil {
		return errs.NewStorageError("append run log", err)
	}
	return nil
}

// PageStatsRecord is one line of page-stats.jsonl.
type PageStatsRecord struct {
	Step      int         `json:"step"`
	Timestamp time.Time   `json:"timestamp"`
	Stats     interface{} `json:"stats"`
}

// RecordPageStats appends the stats of one step to page-stats.jsonl.
func (b *Bundle) RecordPageStats(step int, stats interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.jw == nil {
		f, err := os.OpenFile(b.StatsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errs.NewStorageError("open page stats", err)
		}
		b.jw = NewJSONWriter(f, false, true)
	}

	rec := PageStatsRecord{Step: step, Timestamp: b.now().UTC(), Stats: stats}
	if err := b.jw.WriteRecord(rec); err != nil {
		return errs.NewStorageError("write page stats", err)
	}
	return nil
}

// WriteSession writes session.json, replacing any previous version.
func (b *Bundle) WriteSession(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.NewStorageError("encode session", err)
	}

	tmp := b.SessionPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.NewStorageError("write session", err)
	}
	if err := os.Rename(tmp, b.SessionPath()); err != nil {
		return errs.NewStorageError("write session", err)
	}
	return nil
}

// Close releases the page-stats file.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.jw == nil {
		return nil
	}
	err := b.jw.Close()
	b.jw = nil
	return err
}
