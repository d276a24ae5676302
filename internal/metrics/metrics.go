// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the ingestion platform:
// - Job runs (scheduled and manual)
// - Lease acquisition on remote databases
// - Blob transfer volume
// - Upserted rows per table
// - DuckDB query performance
// - Circuit breakers around upstream APIs and the object store

var (
	// Job Metrics
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_job_runs_total",
			Help: "Total number of job runs by outcome",
		},
		[]string{"job", "outcome"}, // outcome: "success" or a faults category
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "luftdata_job_duration_seconds",
			Help:    "Duration of job runs in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"job"},
	)

	JobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "luftdata_job_last_success_timestamp",
			Help: "Unix timestamp of the last successful run",
		},
		[]string{"job"},
	)

	JobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "luftdata_jobs_in_flight",
			Help: "Number of currently running job instances",
		},
		[]string{"job"},
	)

	// Lock Metrics
	LockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "luftdata_lock_wait_seconds",
			Help:    "Time spent waiting for a remote database lease",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 30, 60, 300, 600},
		},
		[]string{"key", "result"}, // result: "acquired", "timeout", "canceled"
	)

	LockTakeovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_lock_takeovers_total",
			Help: "Total number of expired leases taken over from another owner",
		},
		[]string{"key"},
	)

	LockLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_lock_lost_total",
			Help: "Total number of leases found to be owned by someone else at refresh or release",
		},
		[]string{"key"},
	)

	// Blob Storage Metrics
	BlobBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_blob_bytes_total",
			Help: "Total bytes transferred to and from the object store",
		},
		[]string{"direction"}, // "download", "upload"
	)

	BlobOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_blob_operations_total",
			Help: "Total object store operations by result",
		},
		[]string{"operation", "result"}, // result: "success", "not_found", "error"
	)

	BlobUploadsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "luftdata_blob_uploads_skipped_total",
			Help: "Total releases whose upload was skipped because the database was unchanged",
		},
	)

	// Ingestion Metrics
	IngestRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_ingest_rows_total",
			Help: "Total rows handled by the ingestion pump",
		},
		[]string{"table", "outcome"}, // outcome: "fetched", "deduplicated", "upserted", "skipped"
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_upstream_requests_total",
			Help: "Total upstream API requests by source and status class",
		},
		[]string{"source", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "luftdata_upstream_request_duration_seconds",
			Help:    "Upstream API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets, // 0.005s, 0.01s, 0.025s, 0.05s, 0.1s, 0.25s, 0.5s, 1s, 2.5s, 5s, 10s
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Event Bus Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_events_published_total",
			Help: "Total events published by topic",
		},
		[]string{"topic"},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luftdata_events_handled_total",
			Help: "Total events handled by topic and result",
		},
		[]string{"topic", "result"}, // result: "ack", "nack"
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordJobRun records a finished job run. An empty outcome means success.
func RecordJobRun(job, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "success"
	}
	JobRunsTotal.WithLabelValues(job, outcome).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if outcome == "success" {
		JobLastSuccess.WithLabelValues(job).Set(float64(time.Now().Unix()))
	}
}

// TrackJobInFlight adjusts the in-flight gauge for job.
func TrackJobInFlight(job string, inc bool) {
	if inc {
		JobsInFlight.WithLabelValues(job).Inc()
	} else {
		JobsInFlight.WithLabelValues(job).Dec()
	}
}

// RecordLockWait records how long an Acquire waited and how it ended.
func RecordLockWait(key, result string, waited time.Duration) {
	LockWait.WithLabelValues(key, result).Observe(waited.Seconds())
}

// RecordLockTakeover counts an expired lease taken over from a previous owner.
func RecordLockTakeover(key string) {
	LockTakeovers.WithLabelValues(key).Inc()
}

// RecordLockLost counts a lease found stolen at refresh or release.
func RecordLockLost(key string) {
	LockLost.WithLabelValues(key).Inc()
}

// RecordBlobTransfer records one object store transfer.
func RecordBlobTransfer(operation string, bytes int64, result string) {
	BlobOperations.WithLabelValues(operation, result).Inc()
	if bytes > 0 {
		BlobBytes.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordUploadSkipped counts a release that found the database unchanged.
func RecordUploadSkipped() {
	BlobUploadsSkipped.Inc()
}

// RecordIngest records the row counts of one pump run.
func RecordIngest(table string, fetched, deduplicated, upserted, skipped int) {
	IngestRows.WithLabelValues(table, "fetched").Add(float64(fetched))
	IngestRows.WithLabelValues(table, "deduplicated").Add(float64(deduplicated))
	IngestRows.WithLabelValues(table, "upserted").Add(float64(upserted))
	IngestRows.WithLabelValues(table, "skipped").Add(float64(skipped))
}

// RecordUpstreamRequest records one upstream HTTP request.
func RecordUpstreamRequest(source string, statusCode int, duration time.Duration) {
	UpstreamRequests.WithLabelValues(source, statusClass(statusCode)).Inc()
	UpstreamRequestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordEventPublished counts a published event.
func RecordEventPublished(topic string) {
	EventsPublished.WithLabelValues(topic).Inc()
}

// RecordEventHandled counts a handled event.
func RecordEventHandled(topic string, ok bool) {
	result := "ack"
	if !ok {
		result = "nack"
	}
	EventsHandled.WithLabelValues(topic, result).Inc()
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
