// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/luftdata/internal/blobstore"
	"github.com/tomtom215/luftdata/internal/breaker"
	"github.com/tomtom215/luftdata/internal/checkout"
	"github.com/tomtom215/luftdata/internal/config"
	"github.com/tomtom215/luftdata/internal/events"
	"github.com/tomtom215/luftdata/internal/history"
	"github.com/tomtom215/luftdata/internal/ingest"
	"github.com/tomtom215/luftdata/internal/jobs"
	"github.com/tomtom215/luftdata/internal/lock"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/scheduler"
	"github.com/tomtom215/luftdata/internal/server"
	"github.com/tomtom215/luftdata/internal/upstream"
)

// app holds the wired components shared by the supervised services.
type app struct {
	store     blobstore.Store
	blobCB    *breaker.Breaker
	history   history.Store
	bus       *events.Bus
	runner    *jobs.Runner
	scheduler *scheduler.Scheduler
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	switch cfg.Storage.Backend {
	case config.StorageMemory:
		logging.Warn().Msg("Using in-memory storage; databases are lost on exit")
		a.store = blobstore.NewMemoryStore()
	default:
		azure, err := blobstore.NewAzureStore(cfg.Storage.Azure())
		if err != nil {
			return nil, fmt.Errorf("azure storage: %w", err)
		}
		if err := azure.EnsureContainer(ctx); err != nil {
			return nil, fmt.Errorf("ensure container %q: %w", cfg.Storage.Container, err)
		}
		a.store = azure
		a.blobCB = azure.Breaker()
	}

	locker, err := lock.NewFileLocker(cfg.Lock.Locker())
	if err != nil {
		return nil, fmt.Errorf("lock directory: %w", err)
	}
	manager := checkout.New(a.store, locker, checkout.Options{
		TempDir:  cfg.Storage.TempDir,
		Database: cfg.Database,
	})

	if cfg.History.Path != "" {
		badger, err := history.OpenBadgerStore(cfg.History.Path, cfg.History.TTL)
		if err != nil {
			return nil, fmt.Errorf("run history: %w", err)
		}
		a.history = badger
	} else {
		a.history = history.NewMemoryStore(0)
	}

	a.bus, err = events.New(cfg.Events)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("event bus: %w", err)
	}

	a.runner = jobs.NewRunner(a.history, a.bus, cfg.Jobs.RunTimeout)
	if err := a.registerJobs(cfg, manager); err != nil {
		a.close()
		return nil, err
	}

	a.scheduler, err = scheduler.New(a.runner, cfg.Schedules(jobs.GBGSJobName, jobs.TVJobName), cfg.Jobs.Timezone)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return a, nil
}

func (a *app) registerJobs(cfg *config.Config, manager *checkout.Manager) error {
	if cfg.Jobs.GBGS.Enabled {
		src, err := upstream.NewGBGSClient(cfg.GBGS, nil)
		if err != nil {
			return fmt.Errorf("gbgs source: %w", err)
		}
		job := jobs.NewIngestJob(jobs.GBGSJobName, manager, cfg.GBGSRemoteKey(), src, ingest.AirQualityTable())
		if err := a.runner.Register(job); err != nil {
			return err
		}
	}

	if cfg.Jobs.Trafikverket.Enabled {
		src, err := upstream.NewTrafikverketClient(cfg.Trafikverket, nil)
		if err != nil {
			return fmt.Errorf("trafikverket source: %w", err)
		}
		job := jobs.NewIngestJob(jobs.TVJobName, manager, cfg.TrafikverketRemoteKey(), src, ingest.TrafficFlowTable())
		if err := a.runner.Register(job); err != nil {
			return err
		}
	}

	if cfg.Jobs.Maps.Enabled {
		job := jobs.NewMapsJob(manager, a.store, cfg.MapsRemoteKey(), cfg.Stations.Path)
		if err := a.runner.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// probes feed /healthz/ready.
func (a *app) probes() []server.Probe {
	probes := []server.Probe{{
		Name: "scheduler",
		Check: func(context.Context) error {
			if !a.scheduler.IsRunning() {
				return errors.New("scheduler not running")
			}
			return nil
		},
	}}
	if a.blobCB != nil {
		cb := a.blobCB
		probes = append(probes, server.Probe{
			Name: "blob-storage",
			Check: func(context.Context) error {
				if cb.Open() {
					return fmt.Errorf("%s: %w", cb.Name(), breaker.ErrOpen)
				}
				return nil
			},
		})
	}
	return probes
}

// close releases the bus and history store. Safe on a partially built app.
func (a *app) close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close event bus")
		}
		a.bus = nil
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close run history")
		}
		a.history = nil
	}
}
