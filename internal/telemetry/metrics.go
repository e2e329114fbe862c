// Package telemetry provides application-level observability for the audit
// service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<ZMA_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds. It is
// NOT served by the Gin router, so it never competes with the audit API for
// ingress bandwidth or rate limits.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit event write counters, by category and operation type
//   - Chain validation run counters and detected break counters
//   - Partition-ensure counters
//   - Export job transition counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/events/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as event IDs. Event metrics are labelled
// by category, a small fixed vocabulary, never by actor or resource ID.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Event write-path metrics.
//
// EventsRecordedTotal counts committed audit events by category and operation
// type. EventWriteFailuresTotal counts rejected writes by failure class
// ("validation" or "database"); an alert on its rate catches producers
// emitting malformed events early.
//
// Example PromQL queries:
//   - Write rate by category:  sum by (category) (rate(audit_events_recorded_total[5m]))
//   - Rejection ratio:         rate(audit_event_write_failures_total[5m]) / rate(audit_events_recorded_total[5m])
var (
	EventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_recorded_total",
			Help: "Total number of audit events committed to the event store, by category and operation type.",
		},
		[]string{"category", "operation"},
	)

	EventWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_event_write_failures_total",
			Help: "Total number of audit event writes rejected, by failure class.",
		},
		[]string{"class"},
	)
)

// Chain validation metrics.
//
// ChainValidationRunsTotal counts validator executions; ChainBreaksDetected
// counts individual broken links reported. Any nonzero increase of the break
// counter warrants an immediate alert — it is the tamper-evidence signal:
//
//	increase(audit_chain_breaks_detected_total[1h]) > 0
var (
	ChainValidationRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_chain_validation_runs_total",
			Help: "Total number of chain validation executions.",
		},
	)

	ChainBreaksDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_chain_breaks_detected_total",
			Help: "Total number of broken chain links reported by the validator.",
		},
	)
)

// PartitionsEnsuredTotal counts ensure-partition operations by outcome
// ("created" when the DDL ran, "exists" when the call was an idempotent
// no-op). A steady trickle of "created" from the background job is healthy;
// "created" spikes from the admin API may indicate backfill activity.
var PartitionsEnsuredTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_partitions_ensured_total",
		Help: "Total number of ensure-partition operations, by outcome.",
	},
	[]string{"outcome"},
)

// ExportJobsTotal counts export job state transitions by resulting status
// (pending, processing, completed, failed).
//
// Example PromQL queries:
//   - Failure ratio: rate(audit_export_jobs_total{status="failed"}[1h]) / rate(audit_export_jobs_total{status="completed"}[1h])
var ExportJobsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_export_jobs_total",
		Help: "Total number of export job state transitions, by resulting status.",
	},
	[]string{"status"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB connection pool. It is sampled every 30
// seconds by StartDBStatsCollector rather than per-request to avoid the
// overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
