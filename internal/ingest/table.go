// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/luftdata/internal/upstream"
)

// ErrMissingKey is returned by a Table's Map when a natural-key field is
// absent. Such records are skipped.
var ErrMissingKey = errors.New("record is missing a key field")

// Column is a typed DuckDB column.
type Column struct {
	Name string
	Type string
}

// Table describes where a source lands. Every table also gets a raw
// "record JSON" column and an "_ingested_at TIMESTAMP" column.
type Table struct {
	Schema  string
	Name    string
	Key     []string
	Columns []Column

	// Map returns one value per entry of Columns, in order.
	Map func(upstream.Record) ([]any, error)
}

const (
	recordColumn     = "record"
	ingestedAtColumn = "_ingested_at"
)

// QualifiedName returns schema.name.
func (t Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// Validate checks the key columns are declared.
func (t Table) Validate() error {
	if t.Schema == "" || t.Name == "" {
		return errors.New("table schema and name are required")
	}
	if len(t.Key) == 0 {
		return fmt.Errorf("table %s has no key", t.QualifiedName())
	}
	if t.Map == nil {
		return fmt.Errorf("table %s has no mapper", t.QualifiedName())
	}
	for _, k := range t.Key {
		if t.columnIndex(k) < 0 {
			return fmt.Errorf("table %s: key column %q is not declared", t.QualifiedName(), k)
		}
	}
	return nil
}

func (t Table) columnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t Table) isKey(name string) bool {
	for _, k := range t.Key {
		if k == name {
			return true
		}
	}
	return false
}

// ddl returns the statements creating the schema and table.
func (t Table) ddl() []string {
	cols := make([]string, 0, len(t.Columns)+3)
	for _, c := range t.Columns {
		def := quoteIdent(c.Name) + " " + c.Type
		if t.isKey(c.Name) {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	cols = append(cols,
		quoteIdent(recordColumn)+" JSON",
		quoteIdent(ingestedAtColumn)+" TIMESTAMP",
		"PRIMARY KEY ("+joinIdents(t.Key)+")",
	)
	return []string{
		"CREATE SCHEMA IF NOT EXISTS " + quoteIdent(t.Schema),
		"CREATE TABLE IF NOT EXISTS " + t.quotedName() + " (\n\t" + strings.Join(cols, ",\n\t") + "\n)",
	}
}

// upsertSQL returns the parameterised INSERT ... ON CONFLICT statement.
func (t Table) upsertSQL() string {
	names := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	names = append(names, recordColumn, ingestedAtColumn)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	var sets []string
	for _, n := range names {
		if !t.isKey(n) {
			sets = append(sets, quoteIdent(n)+" = EXCLUDED."+quoteIdent(n))
		}
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		t.quotedName(), joinIdents(names), placeholders, joinIdents(t.Key), strings.Join(sets, ", "))
}

func (t Table) quotedName() string {
	return quoteIdent(t.Schema) + "." + quoteIdent(t.Name)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func joinIdents(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = quoteIdent(n)
	}
	return strings.Join(q, ", ")
}
