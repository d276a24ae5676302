// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/upstream"
)

// AirQualityTable lands GBGS records keyed by (date, time).
func AirQualityTable() Table {
	return Table{
		Schema: "air_quality_data",
		Name:   "gbgs_air_quality_data",
		Key:    []string{"date", "time"},
		Columns: []Column{
			{Name: "date", Type: "VARCHAR"},
			{Name: "time", Type: "VARCHAR"},
			{Name: "observed_at", Type: "TIMESTAMP"},
		},
		Map: mapAirQuality,
	}
}

func mapAirQuality(rec upstream.Record) ([]any, error) {
	date, ok := stringField(rec, "date")
	if !ok {
		return nil, fmt.Errorf("%w: date", ErrMissingKey)
	}
	clock, ok := stringField(rec, "time")
	if !ok {
		return nil, fmt.Errorf("%w: time", ErrMissingKey)
	}

	var observed any
	if ts, err := ObservedAt(date, clock); err == nil {
		observed = ts
	}
	return []any{date, clock, observed}, nil
}

// ObservedAt combines a GBGS date ("2026-01-31") and time ("24:00+01:00")
// into a UTC timestamp. Hour 24 rolls over to 00 on the next day. A time
// without an offset is taken as UTC.
func ObservedAt(date, clock string) (time.Time, error) {
	day, err := time.Parse(time.DateOnly, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}

	clock = strings.TrimSpace(clock)
	if len(clock) < 5 || clock[2] != ':' {
		return time.Time{}, fmt.Errorf("parse time %q: want HH:MM", clock)
	}
	hour, err := strconv.Atoi(clock[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", clock, err)
	}
	minute, err := strconv.Atoi(clock[3:5])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", clock, err)
	}
	if hour > 24 || minute > 59 {
		return time.Time{}, fmt.Errorf("parse time %q: out of range", clock)
	}

	loc := time.UTC
	if rest := clock[5:]; rest != "" {
		// Optional seconds before the offset.
		if strings.HasPrefix(rest, ":") && len(rest) >= 3 {
			rest = rest[3:]
		}
		if rest != "" && rest != "Z" {
			off, err := time.Parse("-07:00", rest)
			if err != nil {
				return time.Time{}, fmt.Errorf("parse offset %q: %w", rest, err)
			}
			_, secs := off.Zone()
			loc = time.FixedZone(rest, secs)
		}
	}

	t := time.Date(day.Year(), day.Month(), day.Day(), 0, minute, 0, 0, loc).Add(time.Duration(hour) * time.Hour)
	return t.UTC(), nil
}

// TrafficFlowTable lands Trafikverket TrafficFlow records keyed by
// (site_id, measurement_time).
func TrafficFlowTable() Table {
	return Table{
		Schema: "traffic_flow_data",
		Name:   "tv_traffic_flow_data",
		Key:    []string{"site_id", "measurement_time"},
		Columns: []Column{
			{Name: "site_id", Type: "BIGINT"},
			{Name: "measurement_time", Type: "VARCHAR"},
			{Name: "vehicle_flow_rate", Type: "DOUBLE"},
			{Name: "vehicle_type", Type: "VARCHAR"},
			{Name: "average_vehicle_speed", Type: "DOUBLE"},
			{Name: "county_no", Type: "BIGINT"},
			{Name: "region_id", Type: "BIGINT"},
			{Name: "specific_lane", Type: "VARCHAR"},
			{Name: "measurement_or_calculation_period", Type: "BIGINT"},
			{Name: "modified_time", Type: "VARCHAR"},
			{Name: "geometry__wgs84", Type: "VARCHAR"},
		},
		Map: mapTrafficFlow,
	}
}

func mapTrafficFlow(rec upstream.Record) ([]any, error) {
	siteID, ok := intField(rec, "SiteId")
	if !ok {
		return nil, fmt.Errorf("%w: SiteId", ErrMissingKey)
	}
	measured, ok := stringField(rec, "MeasurementTime")
	if !ok {
		return nil, fmt.Errorf("%w: MeasurementTime", ErrMissingKey)
	}

	var wkt any
	if geom, ok := rec["Geometry"].(map[string]any); ok {
		if s, ok := stringField(geom, "WGS84"); ok {
			wkt = s
		}
	}

	return []any{
		siteID,
		measured,
		nullable(floatField(rec, "VehicleFlowRate")),
		nullable(stringField(rec, "VehicleType")),
		nullable(floatField(rec, "AverageVehicleSpeed")),
		nullable(intField(rec, "CountyNo")),
		nullable(intField(rec, "RegionId")),
		nullable(stringField(rec, "SpecificLane")),
		nullable(intField(rec, "MeasurementOrCalculationPeriod")),
		nullable(stringField(rec, "ModifiedTime")),
		wkt,
	}, nil
}

func nullable[T any](v T, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func stringField(rec map[string]any, name string) (string, bool) {
	switch v := rec[name].(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

func intField(rec map[string]any, name string) (int64, bool) {
	switch v := rec[name].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func floatField(rec map[string]any, name string) (float64, bool) {
	switch v := rec[name].(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
