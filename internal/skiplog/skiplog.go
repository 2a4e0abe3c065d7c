// Package skiplog writes an audit CSV of source rows that did not land in the
// database, with the reason and the original cells, so operators can fix and
// re-import them.
package skiplog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Header is the first row of every skip file.
var Header = []string{"reason", "line_number", "key", "detail", "raw"}

// Recorder appends skipped rows to a CSV file. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	w       *csv.Writer
	reasons map[string]int
}

// FileName returns "skipped_<kind>_<YYYYMMDD_HHMMSS>.csv" for t.
func FileName(kind string, t time.Time) string {
	return fmt.Sprintf("skipped_%s_%s.csv", kind, t.Format("20060102_150405"))
}

// New creates path (and its parent directories) and writes the header.
func New(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Recorder{path: path, f: f, w: w, reasons: make(map[string]int)}, nil
}

// Path is the file being written.
func (r *Recorder) Path() string { return r.path }

// Add records one skipped row. raw cells are joined with ';' the way the
// source CRM exports them.
func (r *Recorder) Add(reason string, line int, key, detail string, raw []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons[reason]++
	_ = r.w.Write([]string{reason, strconv.Itoa(line), key, detail, strings.Join(raw, ";")})
}

// Counts returns a copy of the per-reason totals.
func (r *Recorder) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.reasons))
	for k, v := range r.reasons {
		out[k] = v
	}
	return out
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	werr := r.w.Error()
	cerr := r.f.Close()
	if werr != nil {
		return fmt.Errorf("flush %s: %w", r.path, werr)
	}
	return cerr
}
