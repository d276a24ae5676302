// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package database opens the DuckDB file that holds the air-quality and
// traffic-flow tables.
//
// The file itself lives in blob storage; the checkout package downloads it
// to a temp directory and calls Open on the local copy. Close runs
// CHECKPOINT so the single file on disk is complete before it is uploaded.
//
// Files:
//   - database.go: Open, Close, Ping, Checkpoint
//   - detectors.go: distinct detector coordinates for the matcher
//   - errors.go: close helpers for cleanup paths
//
// The driver is github.com/duckdb/duckdb-go/v2 (CGO). Connections are opened
// with:
//
//	<path>?access_mode=read_write&threads=N&max_memory=M
//
// Every query helper records duckdb_query_duration_seconds.
package database
