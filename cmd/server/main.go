// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/luftdata/internal/config"
	"github.com/tomtom215/luftdata/internal/jobs"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/server"
	"github.com/tomtom215/luftdata/internal/supervisor"
	"github.com/tomtom215/luftdata/internal/supervisor/services"
)

// runnerDrainTimeout bounds the wait for in-flight job runs after the
// supervisor tree has stopped.
const runnerDrainTimeout = 2 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Logging.Logger())

	logging.Info().
		Str("storage", cfg.Storage.Backend).
		Str("database_path", cfg.Storage.DatabasePath).
		Str("events", cfg.Events.Backend).
		Msg("Starting luftdata")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer app.close()

	tree, err := supervisor.NewSupervisorTree(logging.NewComponentSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout + 5*time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if cfg.Jobs.Maps.Enabled {
		tree.AddDataService(services.NewSubscriberService("maps-trigger", app.bus, jobs.MapsTrigger(app.runner)))
	}
	tree.AddJobsService(services.NewSchedulerService(app.scheduler))

	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Middleware: server.MiddlewareConfig{
				CORSAllowedOrigins: cfg.Server.CORSOrigins,
				TriggerRateLimit:   cfg.Server.TriggerRateLimit,
				TriggerRateWindow:  cfg.Server.TriggerRateWindow,
			},
		}, app.runner, app.scheduler, app.probes()...)
		tree.AddAPIService(services.NewHTTPServerService(srv.HTTPServer(), srv.ShutdownTimeout()))
		logging.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Operations server enabled")
	}

	logging.Info().Strs("jobs", app.runner.Jobs()).Msg("Supervisor tree starting")
	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree stopped with error")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), runnerDrainTimeout)
	if err := app.runner.Shutdown(drainCtx); err != nil {
		logging.Warn().Err(err).Msg("Job runs still in flight at shutdown")
	}
	cancel()

	if report, err := tree.UnstoppedServiceReport(); err != nil {
		logging.Warn().Err(err).Msg("Failed to get unstopped service report")
	} else {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop gracefully")
		}
	}

	logging.Info().Msg("Shutdown complete")
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		app.close()
		os.Exit(1)
	}
}
