// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package checkout implements the remote-database checkout cycle:
// lease, download, open, mutate, close, upload, release.
//
// # Lifecycle
//
//	h, err := mgr.Acquire(ctx, "air_quality.duckdb")
//	// ... write through h.Connection() ...
//	err = mgr.Release(ctx, h) // or mgr.Abort(h) on failure
//
// With wraps the cycle and aborts on error or panic, so a failed mutation
// never reaches the object store:
//
//	err := checkout.With(ctx, mgr, key, func(h *checkout.Handle) error {
//	    _, err := pump.Run(ctx, h.Connection(), src, table)
//	    return err
//	})
//
// # Guarantees
//
//   - Critical sections on the same remote key never overlap. The lease is
//     kept alive while the handle is open and verified before upload.
//   - A downloaded object whose byte count or sha256 disagrees with its
//     stored attributes fails with faults.CorruptObjectError.
//   - A missing object starts an empty database.
//   - Release skips the upload when the local file hashes the same as the
//     downloaded bytes.
//   - The temp directory is removed and the lease released on every path.
package checkout
