// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from an import run.
//
// It exposes a narrow Backend interface (counters and histograms) behind a
// global, pluggable backend that defaults to a no-op, so instrumentation is
// always safe to call when nothing is configured. Concrete systems live in
// subpackages (prompush, datadog) and are selected by the command layer.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the importer.
const (
	StepTotal    = "crm_import_step_total"
	StepDuration = "crm_import_step_duration_seconds"
	RowsTotal    = "crm_import_rows_total"
	CommitsTotal = "crm_import_commits_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs a concrete backend. Passing nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep measures latency and success/failure of one import step
// (read, import, report, verify).
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows increments the row counter for one outcome
// (inserted, updated, duplicate_skipped, omitted, error).
func RecordRows(job, outcome string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{
		"job":     job,
		"outcome": outcome,
	})
}

// RecordCommits increments the commit counter for the given job.
func RecordCommits(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(CommitsTotal, float64(delta), Labels{"job": job})
}
