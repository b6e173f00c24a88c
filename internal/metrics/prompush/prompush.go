// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Statement counters and latency summaries are kept in a private registry
// and pushed to a Pushgateway on Flush, which suits short-lived processes
// such as the bench command that are never scraped.
package prompush

import (
	"fmt"

	"dbmap/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stmtCounter  *prometheus.CounterVec // dbmap_statement_total
	stmtDuration *prometheus.SummaryVec // dbmap_statement_duration_seconds
	cmdCounter   *prometheus.CounterVec // dbmap_command_total
	rowCounter   *prometheus.CounterVec // dbmap_rows_total
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name.
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "dbmap"
	}

	reg := prometheus.NewRegistry()

	stmtCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.StatementTotal,
			Help: "Executed statements, partitioned by executor operation and status.",
		},
		[]string{"op", "status"},
	)
	stmtDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StatementDuration,
			Help:       "Statement latency in seconds, partitioned by operation and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"op", "status"},
	)
	cmdCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.CommandTotal,
			Help: "Command bindings by path: hot reuses the previous command, cold rebuilds it.",
		},
		[]string{"path"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows affected or read, partitioned by operation.",
		},
		[]string{"op"},
	)

	for name, c := range map[string]prometheus.Collector{
		"statement counter": stmtCounter,
		"statement summary": stmtDuration,
		"command counter":   cmdCounter,
		"row counter":       rowCounter,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		stmtCounter:  stmtCounter,
		stmtDuration: stmtDuration,
		cmdCounter:   cmdCounter,
		rowCounter:   rowCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StatementTotal:
		if b.stmtCounter == nil {
			return
		}
		b.stmtCounter.WithLabelValues(labels["op"], labels["status"]).Add(delta)

	case metrics.CommandTotal:
		if b.cmdCounter == nil {
			return
		}
		b.cmdCounter.WithLabelValues(labels["path"]).Add(delta)

	case metrics.RowsTotal:
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["op"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StatementDuration || b.stmtDuration == nil {
		return
	}
	b.stmtDuration.WithLabelValues(labels["op"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
