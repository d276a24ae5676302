// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package ingest upserts upstream records into DuckDB by natural key.
//
// A Pump run drains the source completely before touching the table, so a
// failed pull writes nothing. Duplicates within one pull collapse to the last
// occurrence, then all rows go through a single transaction of
//
//	INSERT ... ON CONFLICT (key) DO UPDATE SET col = EXCLUDED.col
//
// Tables:
//   - air_quality_data.gbgs_air_quality_data, key (date, time)
//   - traffic_flow_data.tv_traffic_flow_data, key (site_id, measurement_time)
//
// Both keep the raw record as JSON next to the typed columns.
package ingest
