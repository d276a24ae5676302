// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

/*
Package main is the entry point for the luftdata server.

Luftdata ingests air-quality measurements from the Göteborgs Stad API and
traffic-flow measurements from Trafikverket into DuckDB files kept in Azure
Blob Storage, and renders Leaflet maps pairing monitoring stations with their
nearest traffic detectors.

# Application Architecture

	RootSupervisor ("luftdata")
	├── DataSupervisor ("data-layer")
	│   └── maps-trigger (ingestion event subscriber)
	├── JobsSupervisor ("jobs-layer")
	│   └── job-scheduler (cron triggers)
	└── APISupervisor ("api-layer")
	    └── http-server (health, metrics, job API)

Component initialization order:

 1. Configuration: Koanf v2 layering defaults, config.yaml and environment
 2. Logging: zerolog, bridged to slog for suture and watermill
 3. Blob storage: Azure (container created if missing) or in-memory
 4. Checkout manager: file leases plus DuckDB local copies
 5. Run history: BadgerDB when history.path is set, in-memory otherwise
 6. Event bus: watermill over gochannel or NATS
 7. Jobs and scheduler
 8. Supervisor tree

# Signal Handling

SIGINT and SIGTERM cancel the tree. The scheduler stops firing, the HTTP
server drains, then in-flight job runs get up to two minutes to finish and
upload before the process exits.

# Example Usage

	export AZURE_STORAGE_CONNECTION_STRING="DefaultEndpointsProtocol=https;..."
	export GOTEBORGS_STAD_API_URL=https://data.goteborg.se/AirQualityService/v1.0/LatestMeasurement/...
	export TRAFIKVERKET_API_KEY=your-key
	./server

Local run without an Azure account:

	LUFTDATA_STORAGE_BACKEND=memory LOG_FORMAT=console ./server

Trigger a run by hand:

	curl -X POST http://localhost:8080/api/v1/jobs/GBGS_update_job/run
*/
package main
