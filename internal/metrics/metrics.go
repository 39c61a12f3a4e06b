// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the ingestion pipeline.
//
// Callers use the package-level helpers (RecordStep, RecordRow, RecordRun).
// The installed backend defaults to a no-op implementation, so metrics are
// always safe to call even when no real backend is configured. Concrete
// systems live in subpackages (prompush, datadog) and are installed once at
// startup via SetBackend.
package metrics

import "time"

// Metric names shared by every backend.
const (
	StepTotal           = "catalog_step_total"
	StepDurationSeconds = "catalog_step_duration_seconds"
	RowsTotal           = "catalog_rows_total"
	RunsTotal           = "catalog_runs_total"
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

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep measures latency and success/failure of one pipeline step
// (stage, open, header, run).
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

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments a row-level counter for the given job and kind.
//
// Kinds are "processed" and the skip reasons: "empty", "column_count",
// "missing_key", "malformed", "write_failed".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordRun counts one finished run by its terminal status.
func RecordRun(job, status string) {
	backend.IncCounter(RunsTotal, 1, Labels{
		"job":    job,
		"status": status,
	})
}
