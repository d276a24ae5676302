// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package config loads process configuration with koanf.
//
// Sources are layered, later ones winning:
//
//  1. Built-in defaults (defaultConfig)
//  2. A YAML file: $CONFIG_PATH, then config.yaml, config.yml and
//     /etc/luftdata/config.y{a,}ml
//  3. Environment variables listed in envMappings
//
// The Azure and source variables keep the names existing deployments use
// (AZURE_STORAGE_CONNECTION_STRING, TRAFIKVERKET_API_KEY and so on); the
// rest use the LUFTDATA_ prefix. Unknown variables are ignored.
//
// Example YAML:
//
//	storage:
//	  backend: azure
//	  container: dagster-storage
//	  database_path: air_quality.duckdb
//	jobs:
//	  timezone: Europe/Stockholm
//	  gbgs:
//	    enabled: true
//	    schedule: "0 * * * *"
//	  trafikverket:
//	    enabled: true
//	    schedule: "*/15 * * * *"
//	events:
//	  backend: nats
//	  nats_url: nats://localhost:4222
//
// Load validates struct tags through the validation package and then the
// cross-field rules: Azure credentials, source settings of enabled jobs,
// schedules, and the NATS URL.
package config
