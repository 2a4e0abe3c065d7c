// Package logging sets up the run logger: a text log file per import under
// the log directory plus the same records on the console.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Options configures New.
type Options struct {
	Dir     string    // log directory; empty disables the file
	Kind    string    // import kind, part of the file name
	Verbose bool      // debug level on both outputs
	Console io.Writer // defaults to os.Stderr
	Now     time.Time // file name timestamp; defaults to time.Now()
}

// FileName returns "import_<kind>_<YYYYMMDD_HHMMSS>.log".
func FileName(kind string, t time.Time) string {
	return fmt.Sprintf("import_%s_%s.log", kind, t.Format("20060102_150405"))
}

// New returns the logger, the log file path (empty when disabled) and a
// close function that must be called at exit.
func New(opt Options) (*slog.Logger, string, func() error, error) {
	level := slog.LevelInfo
	if opt.Verbose {
		level = slog.LevelDebug
	}
	console := opt.Console
	if console == nil {
		console = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(console, hopts)}

	closeFn := func() error { return nil }
	var path string
	if opt.Dir != "" {
		if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
			return nil, "", nil, fmt.Errorf("create log dir %s: %w", opt.Dir, err)
		}
		now := opt.Now
		if now.IsZero() {
			now = time.Now()
		}
		path = filepath.Join(opt.Dir, FileName(opt.Kind, now))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, "", nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewTextHandler(f, hopts))
		closeFn = f.Close
	}

	return slog.New(fanout(handlers)), path, closeFn, nil
}

// fanout sends every record to all handlers.
type fanout []slog.Handler

func (h fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, x := range h {
		if x.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (h fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, x := range h {
		if x.Enabled(ctx, r.Level) {
			errs = append(errs, x.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(h))
	for i, x := range h {
		out[i] = x.WithAttrs(attrs)
	}
	return out
}

func (h fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(h))
	for i, x := range h {
		out[i] = x.WithGroup(name)
	}
	return out
}
