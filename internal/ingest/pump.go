// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/metrics"
	"github.com/tomtom215/luftdata/internal/upstream"
)

// Result counts what one Run did.
type Result struct {
	Fetched      int `json:"fetched"`
	Deduplicated int `json:"deduplicated"`
	Upserted     int `json:"upserted"`
	Skipped      int `json:"skipped"`
}

// Pump drains a Source and upserts it into a Table.
type Pump struct {
	now func() time.Time
}

// NewPump creates a Pump.
func NewPump() *Pump {
	return &Pump{now: time.Now}
}

type row struct {
	values []any
	raw    []byte
}

// Run creates the table if needed, drains src fully, deduplicates on the
// natural key (last occurrence wins) and upserts in one transaction. A
// source error aborts before anything is written.
func (p *Pump) Run(ctx context.Context, db *sql.DB, src upstream.Source, table Table) (Result, error) {
	var res Result
	if err := table.Validate(); err != nil {
		return res, err
	}
	log := logging.Ctx(ctx).With().
		Str("component", "ingest").
		Str("source", src.Name()).
		Str("table", table.QualifiedName()).
		Logger()

	if err := p.ensureTable(ctx, db, table); err != nil {
		return res, err
	}

	records, err := upstream.Collect(ctx, src)
	if err != nil {
		return res, fmt.Errorf("fetch %s: %w", src.Name(), err)
	}
	res.Fetched = len(records)

	rows, skipped, err := p.prepare(records, table)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped
	res.Deduplicated = res.Fetched - res.Skipped - len(rows)
	if res.Skipped > 0 {
		log.Warn().Int("skipped", res.Skipped).Msg("Skipped records without a natural key")
	}

	upserted, err := p.upsert(ctx, db, table, rows)
	if err != nil {
		return res, err
	}
	res.Upserted = upserted

	metrics.RecordIngest(table.QualifiedName(), res.Fetched, res.Deduplicated, res.Upserted, res.Skipped)
	log.Info().
		Int("fetched", res.Fetched).
		Int("deduplicated", res.Deduplicated).
		Int("upserted", res.Upserted).
		Int("skipped", res.Skipped).
		Msg("Ingestion complete")
	return res, nil
}

func (p *Pump) ensureTable(ctx context.Context, db *sql.DB, table Table) error {
	for _, stmt := range table.ddl() {
		start := time.Now()
		_, err := db.ExecContext(ctx, stmt)
		metrics.RecordDBQuery("ddl", table.QualifiedName(), time.Since(start), err)
		if err != nil {
			return fmt.Errorf("create table %s: %w", table.QualifiedName(), err)
		}
	}
	return nil
}

// prepare maps records to rows and keeps the last occurrence of each key
// at the position of its first occurrence.
func (p *Pump) prepare(records []upstream.Record, table Table) ([]row, int, error) {
	keyIdx := make([]int, len(table.Key))
	for i, k := range table.Key {
		keyIdx[i] = table.columnIndex(k)
	}

	var (
		rows    []row
		skipped int
		seen    = make(map[string]int, len(records))
	)
	for i, rec := range records {
		values, err := table.Map(rec)
		if errors.Is(err, ErrMissingKey) {
			skipped++
			logging.Debug().Err(err).Int("index", i).Str("table", table.QualifiedName()).Msg("Skipping record")
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("map record %d: %w", i, err)
		}
		if len(values) != len(table.Columns) {
			return nil, 0, fmt.Errorf("map record %d: got %d values for %d columns", i, len(values), len(table.Columns))
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, 0, fmt.Errorf("encode record %d: %w", i, err)
		}

		key := naturalKey(values, keyIdx)
		if at, dup := seen[key]; dup {
			rows[at] = row{values: values, raw: raw}
			continue
		}
		seen[key] = len(rows)
		rows = append(rows, row{values: values, raw: raw})
	}
	return rows, skipped, nil
}

func (p *Pump) upsert(ctx context.Context, db *sql.DB, table Table, rows []row) (n int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert", table.QualifiedName(), time.Since(start), err) }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Warn().Err(rbErr).Str("table", table.QualifiedName()).Msg("Rollback failed")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, table.upsertSQL())
	if err != nil {
		return 0, fmt.Errorf("prepare upsert into %s: %w", table.QualifiedName(), err)
	}
	defer func() { _ = stmt.Close() }()

	ingestedAt := p.now().UTC()
	for i, r := range rows {
		args := make([]any, 0, len(r.values)+2)
		args = append(args, r.values...)
		args = append(args, string(r.raw), ingestedAt)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("upsert row %d into %s: %w", i, table.QualifiedName(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert into %s: %w", table.QualifiedName(), err)
	}
	return len(rows), nil
}

func naturalKey(values []any, idx []int) string {
	parts := make([]string, len(idx))
	for i, j := range idx {
		parts[i] = fmt.Sprint(values[j])
	}
	return strings.Join(parts, "\x1f")
}
