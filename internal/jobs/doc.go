// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

/*
Package jobs defines the named pipeline jobs and the Runner that executes them.

Jobs:

  - GBGS_update_job: Göteborgs Stad air quality into air_quality_data.gbgs_air_quality_data
  - TV_update_job: Trafikverket traffic flow into traffic_flow_data.tv_traffic_flow_data
  - maps_job: station/detector matching and Leaflet maps, run after each ingestion

Ingestion jobs hold the remote database checkout for the whole pump, so two
jobs sharing a remote key serialise on its lease.

Every run goes through Runner, which assigns a run id, bounds the run with a
timeout, records metrics and history, and publishes ingestion.completed for
successful ingestion runs. Failures are logged once, by the Runner.
*/
package jobs
