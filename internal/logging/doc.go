// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package logging provides centralized zerolog-based structured logging for Luftdata.
//
// The global logger is configured once from main and used everywhere through
// package-level helpers. Job runs attach their name and run ID to the
// context so that every line written during a run can be correlated:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	ctx = logging.ContextWithRun(ctx, "TV_update_job", runID)
//	logging.Ctx(ctx).Info().Int("rows", n).Msg("Upsert complete")
//	// {"level":"info","job":"TV_update_job","run_id":"...","rows":42,"message":"Upsert complete"}
//
// Libraries that require log/slog (sutureslog, watermill) receive an
// slog.Logger from NewSlogLogger, which writes through the same zerolog
// output.
//
// Always terminate log chains with .Msg() or .Send(); an unterminated event
// is never written.
package logging
