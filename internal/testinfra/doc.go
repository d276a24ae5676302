// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package testinfra starts backing services in Docker for integration tests.
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/blobstore/... ./internal/events/...
//
// AzuriteContainer runs Microsoft's blob emulator with its well-known dev
// account, so AzureStore is exercised against the real wire protocol.
// NATSContainer runs a core NATS server for the events bus. Tests skip when
// Docker is unavailable or -short is set.
package testinfra
