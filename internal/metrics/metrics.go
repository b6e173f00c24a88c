// Package metrics provides a small, backend-agnostic abstraction for recording
// statement-level metrics from the data-access layer.
//
// It exposes a narrow interface (Backend) focused on counters and timing
// data. The installed backend defaults to a no-op implementation, so the
// executor can always record without any metrics system configured.
// Concrete systems live in subpackages (prompush, datadog).
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names emitted by this package.
const (
	StatementTotal    = "dbmap_statement_total"
	StatementDuration = "dbmap_statement_duration_seconds"
	CommandTotal      = "dbmap_command_total"
	RowsTotal         = "dbmap_rows_total"
)

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

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStatement counts one executed statement and observes its latency.
// op is the executor operation ("execute", "scalar", "reader", ...).
func RecordStatement(op string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"op": op, "status": status}

	b := current()
	b.IncCounter(StatementTotal, 1, lbls)
	b.ObserveHistogram(StatementDuration, d.Seconds(), lbls)
}

// RecordCommand counts how a statement was bound: "hot" when the previous
// command was reused, "cold" when it was rebuilt.
func RecordCommand(path string) {
	current().IncCounter(CommandTotal, 1, Labels{"path": path})
}

// RecordRows adds n affected or read rows for op.
func RecordRows(op string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"op": op})
}
