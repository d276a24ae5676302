// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

/*
Package metrics provides Prometheus metrics collection and export for observability.

All collectors are registered on the default registry through promauto and are
exposed by the ops server at /metrics:

	curl http://localhost:8080/metrics

# Available Metrics

Job Metrics:
  - luftdata_job_runs_total: Job runs (counter)
    Labels: job, outcome (success or an error category)
  - luftdata_job_duration_seconds: Run duration (histogram)
  - luftdata_job_last_success_timestamp: Unix time of last success (gauge)
  - luftdata_jobs_in_flight: Concurrently running instances (gauge)

Lock Metrics:
  - luftdata_lock_wait_seconds: Time waiting for a lease (histogram)
    Labels: key, result (acquired, timeout, canceled)
  - luftdata_lock_takeovers_total: Expired leases taken over (counter)
  - luftdata_lock_lost_total: Leases found stolen (counter)

Storage Metrics:
  - luftdata_blob_bytes_total: Bytes moved (counter), labels: direction
  - luftdata_blob_operations_total: Store calls (counter), labels: operation, result
  - luftdata_blob_uploads_skipped_total: Unchanged releases (counter)

Ingestion Metrics:
  - luftdata_ingest_rows_total: Rows by table and outcome (counter)
  - luftdata_upstream_requests_total: Upstream calls by source and status class
  - luftdata_upstream_request_duration_seconds: Upstream latency (histogram)

Database Metrics:
  - duckdb_query_duration_seconds: Query execution time (histogram)
    Labels: operation, table
  - duckdb_query_errors_total: Query errors (counter)

Circuit Breaker Metrics:
  - circuit_breaker_state: 0=closed, 1=half-open, 2=open (gauge)
  - circuit_breaker_requests_total: Requests by result (counter)
  - circuit_breaker_consecutive_failures (gauge)
  - circuit_breaker_state_transitions_total (counter)

# Usage

	start := time.Now()
	err := runJob(ctx)
	metrics.RecordJobRun("TV_update_job", faults.Category(err), time.Since(start))

# Example Queries

Failure ratio per job over the last day:

	sum by (job) (increase(luftdata_job_runs_total{outcome!="success"}[1d]))
	  / sum by (job) (increase(luftdata_job_runs_total[1d]))

Jobs that have not succeeded for two hours:

	time() - luftdata_job_last_success_timestamp > 7200
*/
package metrics
