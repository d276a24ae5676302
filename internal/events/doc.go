// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

/*
Package events carries ingestion.completed notifications between jobs.

An ingestion job that commits rows publishes an Event; the maps job
subscribes and rebuilds the published maps. Two watermill backends are
supported:

  - gochannel: in-process, the default for a single binary
  - nats: core NATS through watermill-nats, for multi-instance deployments

Handler errors nack the message. A message is delivered at most
Config.MaxDeliveries times before it is acknowledged and dropped with an
error log, so a persistently failing handler cannot spin forever.
*/
package events
