// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/metrics"
)

// DefaultMaxMemory is used when Options.MaxMemory is empty.
const DefaultMaxMemory = "1GB"

// Options tunes a DuckDB connection.
type Options struct {
	// Threads defaults to runtime.NumCPU() when <= 0.
	Threads int `koanf:"threads" validate:"gte=0,lte=256"`

	// MaxMemory is a DuckDB size string such as "512MB".
	MaxMemory string `koanf:"max_memory" validate:"omitempty,byte_size"`
}

// DB wraps a DuckDB connection backed by a single database file.
type DB struct {
	conn *sql.DB
	path string

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the DuckDB file at path.
func Open(path string, opts Options) (*DB, error) {
	numThreads := opts.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	maxMemory := opts.MaxMemory
	if maxMemory == "" {
		maxMemory = DefaultMaxMemory
	}

	// 0750 per gosec G301
	dbDir := filepath.Dir(path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, &faults.LocalIOError{Op: "mkdir", Path: dbDir, Cause: err}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB allows a single writer per file; one pooled connection keeps
	// schema changes and upserts on the same session.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	logging.Debug().
		Str("path", path).
		Int("threads", numThreads).
		Str("max_memory", maxMemory).
		Msg("Opened DuckDB database")

	return &DB{conn: conn, path: path}, nil
}

// Conn returns the underlying SQL connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the local file path the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// Ping checks the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	start := time.Now()
	err := db.conn.PingContext(ctx)
	metrics.RecordDBQuery("ping", "", time.Since(start), err)
	return err
}

// Checkpoint flushes the WAL into the main database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, "CHECKPOINT")
	metrics.RecordDBQuery("checkpoint", "", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", db.path, err)
	}
	return nil
}

// Close checkpoints and closes the connection. After Close returns the
// database file holds every committed change. Safe to call more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := db.Checkpoint(ctx); err != nil {
			logging.Warn().Err(err).Str("path", db.path).Msg("Checkpoint before close failed")
			db.closeErr = err
		}
		if err := db.conn.Close(); err != nil && db.closeErr == nil {
			db.closeErr = fmt.Errorf("close database %s: %w", db.path, err)
		}
	})
	return db.closeErr
}
