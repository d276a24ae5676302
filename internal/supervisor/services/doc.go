// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

/*
Package services adapts luftdata components to suture.Service.

Each wrapper translates one lifecycle into Serve(ctx) error:

  - HTTPServerService: ListenAndServe / Shutdown with a drain timeout
  - SchedulerService: Start / Stop of the cron scheduler
  - SubscriberService: an event subscription held for the life of ctx

All wrappers implement fmt.Stringer so supervisor events name them.
*/
package services
