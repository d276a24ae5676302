// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

/*
Package server is the operations HTTP surface, routed with chi.

Routes:

	GET  /healthz/live            process is up
	GET  /healthz/ready           every Probe passes (503 otherwise)
	GET  /metrics                 Prometheus exposition
	GET  /api/v1/jobs             jobs with cron, next run and last run
	POST /api/v1/jobs/{name}/run  manual trigger, 202 with run_id
	GET  /api/v1/runs?job=&limit= run history, newest first

Every request gets a chi request id that doubles as the correlation id
of the runs it triggers; callers can pass their own in X-Correlation-ID.
Manual triggers are rate limited per client IP with httprate. CORS only
admits GET requests from the configured origins.

All JSON bodies share one envelope:

	{"status": "success", "data": ..., "metadata": {"timestamp": ...}}
	{"status": "error", "error": {"code": "UNKNOWN_JOB", "message": ...}, ...}
*/
package server
