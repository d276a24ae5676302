// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package jobs

import (
	"context"

	"github.com/tomtom215/luftdata/internal/checkout"
	"github.com/tomtom215/luftdata/internal/ingest"
	"github.com/tomtom215/luftdata/internal/upstream"
)

// Job names. The ingestion names match the schedules operators already know.
const (
	GBGSJobName = "GBGS_update_job"
	TVJobName   = "TV_update_job"
	MapsJobName = "maps_job"
)

// Triggers recorded in run history.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerEvent    = "event"
)

// Summary describes what a successful run did.
type Summary struct {
	RemoteKey string
	Rows      int

	// Ingested marks runs that committed to a remote database; these
	// announce themselves on the event bus.
	Ingested bool

	Details map[string]any
}

// Job is a named unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) (Summary, error)
}

// IngestJob checks out a remote database and pumps one source into one table.
type IngestJob struct {
	name      string
	manager   *checkout.Manager
	remoteKey string
	source    upstream.Source
	table     ingest.Table
	pump      *ingest.Pump
}

// NewIngestJob returns a job that ingests src into table inside remoteKey.
func NewIngestJob(name string, manager *checkout.Manager, remoteKey string, src upstream.Source, table ingest.Table) *IngestJob {
	return &IngestJob{
		name:      name,
		manager:   manager,
		remoteKey: remoteKey,
		source:    src,
		table:     table,
		pump:      ingest.NewPump(),
	}
}

// Name implements Job.
func (j *IngestJob) Name() string { return j.name }

// RemoteKey is the database object the job writes to.
func (j *IngestJob) RemoteKey() string { return j.remoteKey }

// Run implements Job. Nothing is uploaded unless the whole pump succeeds.
func (j *IngestJob) Run(ctx context.Context) (Summary, error) {
	var res ingest.Result
	err := checkout.With(ctx, j.manager, j.remoteKey, func(h *checkout.Handle) error {
		var err error
		res, err = j.pump.Run(ctx, h.Connection(), j.source, j.table)
		return err
	})
	if err != nil {
		return Summary{RemoteKey: j.remoteKey}, err
	}
	return Summary{
		RemoteKey: j.remoteKey,
		Rows:      res.Upserted,
		Ingested:  true,
		Details: map[string]any{
			"source":       j.source.Name(),
			"table":        j.table.QualifiedName(),
			"fetched":      res.Fetched,
			"deduplicated": res.Deduplicated,
			"skipped":      res.Skipped,
		},
	}, nil
}
