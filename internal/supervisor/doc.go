// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

/*
Package supervisor runs the long-lived parts of the process under suture v4.

	RootSupervisor ("luftdata")
	├── DataSupervisor ("data-layer")
	│   └── SubscriberService (ingestion.completed -> maps_job)
	├── JobsSupervisor ("jobs-layer")
	│   └── SchedulerService (cron -> job runner)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (health, metrics, job API)

Crashed services restart with suture's backoff; each layer counts its
failures separately. Supervisor events are logged through sutureslog over
the zerolog slog adapter.

Usage in main.go:

	tree, err := supervisor.NewSupervisorTree(logging.NewComponentSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewSubscriberService("maps-trigger", bus, jobs.MapsTrigger(runner)))
	tree.AddJobsService(services.NewSchedulerService(sched))
	tree.AddAPIService(services.NewHTTPServerService(srv.HTTPServer(), srv.ShutdownTimeout()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

Job runs are not supervised services: the runner owns them, and main
drains it with Runner.Shutdown after the tree stops.
*/
package supervisor
