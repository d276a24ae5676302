// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package ingest

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/database"
	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/upstream"
)

// sliceSource yields records and then, optionally, an error.
type sliceSource struct {
	records []upstream.Record
	err     error
}

func (s sliceSource) Name() string { return "test" }

func (s sliceSource) Records(context.Context) iter.Seq2[upstream.Record, error] {
	return func(yield func(upstream.Record, error) bool) {
		for _, r := range s.records {
			if !yield(r, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ingest.duckdb"), database.Options{Threads: 1, MaxMemory: "256MB"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db.Conn()
}

// decodeRecords parses a JSON array the way the upstream clients do.
func decodeRecords(t *testing.T, s string) []upstream.Record {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var out []upstream.Record
	if err := dec.Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestPump_AirQualityUpsert(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	pump := NewPump()
	table := AirQualityTable()

	first := decodeRecords(t, `[
		{"date":"2026-01-01","time":"01:00+01:00","no2":10},
		{"date":"2026-01-01","time":"02:00+01:00","no2":11},
		{"date":"2026-01-01","time":"01:00+01:00","no2":12},
		{"date":"2026-01-01","no2":13}
	]`)

	res, err := pump.Run(ctx, db, sliceSource{records: first}, table)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Result{Fetched: 4, Deduplicated: 1, Upserted: 2, Skipped: 1}
	if res != want {
		t.Errorf("Result = %+v, want %+v", res, want)
	}
	if n := countRows(t, db, table.QualifiedName()); n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	var no2 float64
	err = db.QueryRow(`SELECT CAST(json_extract(record, '$.no2') AS DOUBLE) FROM air_quality_data.gbgs_air_quality_data WHERE time = '01:00+01:00'`).Scan(&no2)
	if err != nil {
		t.Fatal(err)
	}
	if no2 != 12 {
		t.Errorf("no2 = %v, want last occurrence 12", no2)
	}

	// A second pull updates existing keys and adds new ones.
	second := decodeRecords(t, `[
		{"date":"2026-01-01","time":"02:00+01:00","no2":99},
		{"date":"2026-01-01","time":"24:00+01:00","no2":5}
	]`)
	if _, err := pump.Run(ctx, db, sliceSource{records: second}, table); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, db, table.QualifiedName()); n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}

	var observed time.Time
	err = db.QueryRow(`SELECT observed_at FROM air_quality_data.gbgs_air_quality_data WHERE time = '24:00+01:00'`).Scan(&observed)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC); !observed.Equal(want) {
		t.Errorf("observed_at = %v, want %v", observed, want)
	}
}

func TestPump_SourceErrorWritesNothing(t *testing.T) {
	db := setupDB(t)
	table := AirQualityTable()
	src := sliceSource{
		records: decodeRecords(t, `[{"date":"2026-01-01","time":"01:00"}]`),
		err:     &faults.MalformedPayloadError{Source: "test", Reason: "loop"},
	}

	res, err := NewPump().Run(context.Background(), db, src, table)
	var malformed *faults.MalformedPayloadError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedPayloadError", err)
	}
	if res.Upserted != 0 {
		t.Errorf("Upserted = %d", res.Upserted)
	}
	if n := countRows(t, db, table.QualifiedName()); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestPump_TrafficFlow(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	table := TrafficFlowTable()

	records := decodeRecords(t, `[
		{"SiteId":1001,"MeasurementTime":"2026-01-01T10:00:00.000+01:00","VehicleFlowRate":420,"AverageVehicleSpeed":54.5,
		 "VehicleType":"car","CountyNo":14,"RegionId":4,"SpecificLane":"lane1","MeasurementOrCalculationPeriod":60,
		 "ModifiedTime":"2026-01-01T10:01:00.000+01:00","Geometry":{"WGS84":"POINT (11.98 57.71)"}},
		{"SiteId":1002,"MeasurementTime":"2026-01-01T10:00:00.000+01:00"},
		{"MeasurementTime":"2026-01-01T10:00:00.000+01:00"}
	]`)

	res, err := NewPump().Run(ctx, db, sliceSource{records: records}, table)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Upserted != 2 || res.Skipped != 1 {
		t.Errorf("Result = %+v", res)
	}

	var (
		flow  float64
		speed sql.NullFloat64
		wkt   sql.NullString
	)
	err = db.QueryRow(`SELECT vehicle_flow_rate, average_vehicle_speed, geometry__wgs84 FROM traffic_flow_data.tv_traffic_flow_data WHERE site_id = 1001`).
		Scan(&flow, &speed, &wkt)
	if err != nil {
		t.Fatal(err)
	}
	if flow != 420 || speed.Float64 != 54.5 || wkt.String != "POINT (11.98 57.71)" {
		t.Errorf("row = %v %v %v", flow, speed, wkt)
	}

	err = db.QueryRow(`SELECT average_vehicle_speed, geometry__wgs84 FROM traffic_flow_data.tv_traffic_flow_data WHERE site_id = 1002`).
		Scan(&speed, &wkt)
	if err != nil {
		t.Fatal(err)
	}
	if speed.Valid || wkt.Valid {
		t.Errorf("missing fields should be NULL, got %v %v", speed, wkt)
	}

	detectors, err := database.DetectorCoordinates(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(detectors) != 1 || detectors[0].ID != 1001 {
		t.Errorf("detectors = %+v, want only 1001", detectors)
	}
}

func TestPump_EmptySource(t *testing.T) {
	db := setupDB(t)
	res, err := NewPump().Run(context.Background(), db, sliceSource{}, TrafficFlowTable())
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{}) {
		t.Errorf("Result = %+v", res)
	}
	if n := countRows(t, db, "traffic_flow_data.tv_traffic_flow_data"); n != 0 {
		t.Errorf("rows = %d", n)
	}
}

func TestTable_Validate(t *testing.T) {
	good := AirQualityTable()
	if err := good.Validate(); err != nil {
		t.Errorf("AirQualityTable: %v", err)
	}
	if err := TrafficFlowTable().Validate(); err != nil {
		t.Errorf("TrafficFlowTable: %v", err)
	}

	bad := good
	bad.Key = []string{"missing"}
	if err := bad.Validate(); err == nil {
		t.Error("undeclared key column should fail")
	}
	bad = good
	bad.Map = nil
	if err := bad.Validate(); err == nil {
		t.Error("missing mapper should fail")
	}
}

func TestUpsertSQL(t *testing.T) {
	got := AirQualityTable().upsertSQL()
	want := `INSERT INTO "air_quality_data"."gbgs_air_quality_data" ("date", "time", "observed_at", "record", "_ingested_at") ` +
		`VALUES (?, ?, ?, ?, ?) ON CONFLICT ("date", "time") DO UPDATE SET ` +
		`"observed_at" = EXCLUDED."observed_at", "record" = EXCLUDED."record", "_ingested_at" = EXCLUDED."_ingested_at"`
	if got != want {
		t.Errorf("upsertSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestObservedAt(t *testing.T) {
	tests := []struct {
		date, clock string
		want        time.Time
		wantErr     bool
	}{
		{"2026-03-10", "13:00+01:00", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), false},
		{"2026-03-10", "13:00", time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC), false},
		{"2026-03-10", "24:00+01:00", time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), false},
		{"2026-12-31", "24:00", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"2026-03-10", "13:00:00+02:00", time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC), false},
		{"2026-03-10", "25:00", time.Time{}, true},
		{"10/03/2026", "13:00", time.Time{}, true},
		{"2026-03-10", "1pm", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.date+" "+tt.clock, func(t *testing.T) {
			got, err := ObservedAt(tt.date, tt.clock)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ObservedAt = %v, want %v", got, tt.want)
			}
		})
	}
}
