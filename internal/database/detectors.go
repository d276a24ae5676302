// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/luftdata/internal/geo"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/matcher"
	"github.com/tomtom215/luftdata/internal/metrics"
)

// TrafficFlowTable is the fully qualified traffic-flow table name.
const TrafficFlowTable = "traffic_flow_data.tv_traffic_flow_data"

const detectorQuery = `SELECT DISTINCT site_id, geometry__wgs84
FROM ` + TrafficFlowTable + `
WHERE site_id IS NOT NULL
ORDER BY site_id, geometry__wgs84`

// DetectorCoordinates returns one entry per distinct (site_id, geometry)
// pair in the traffic-flow table. Rows whose geometry is not a valid WKT
// point are skipped with a warning. A missing table yields no detectors.
func (db *DB) DetectorCoordinates(ctx context.Context) ([]matcher.Detector, error) {
	return DetectorCoordinates(ctx, db.conn)
}

// DetectorCoordinates runs the detector query against any open connection.
func DetectorCoordinates(ctx context.Context, conn *sql.DB) ([]matcher.Detector, error) {
	start := time.Now()

	exists, err := TableExists(ctx, conn, "traffic_flow_data", "tv_traffic_flow_data")
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := conn.QueryContext(ctx, detectorQuery)
	if err != nil {
		metrics.RecordDBQuery("select", TrafficFlowTable, time.Since(start), err)
		return nil, fmt.Errorf("query detectors: %w", err)
	}
	defer closeQuietly(rows)

	var (
		detectors []matcher.Detector
		skipped   int
	)
	for rows.Next() {
		var (
			siteID int64
			wkt    sql.NullString
		)
		if err := rows.Scan(&siteID, &wkt); err != nil {
			metrics.RecordDBQuery("select", TrafficFlowTable, time.Since(start), err)
			return nil, fmt.Errorf("scan detector row: %w", err)
		}
		coord, perr := geo.ParseWKTPoint(wkt.String)
		if perr != nil {
			skipped++
			logging.Warn().Err(perr).Int64("site_id", siteID).Str("wkt", wkt.String).
				Msg("Skipping detector with invalid geometry")
			continue
		}
		detectors = append(detectors, matcher.Detector{ID: siteID, Coord: coord})
	}
	err = rows.Err()
	metrics.RecordDBQuery("select", TrafficFlowTable, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("iterate detectors: %w", err)
	}

	logging.Debug().Int("detectors", len(detectors)).Int("skipped", skipped).Msg("Loaded detector coordinates")
	return detectors, nil
}

// TableExists reports whether schema.table exists in the current database.
func TableExists(ctx context.Context, conn *sql.DB, schema, table string) (bool, error) {
	start := time.Now()
	var n int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		schema, table).Scan(&n)
	metrics.RecordDBQuery("select", "information_schema.tables", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", schema, table, err)
	}
	return n > 0, nil
}
