// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package lock provides named, expiring leases used to serialise checkouts of
// a remote database.
//
// Each key maps to two files in the lock directory:
//
//	<name>.lock   gofrs/flock mutex guarding the read-modify-write below
//	<name>.lease  JSON record {owner, pid, host, token, acquired_at, expires_at}
//
// The flock is only held for the few microseconds it takes to inspect and
// rewrite the record, so a holder that crashes mid-mutation never wedges the
// key: its record simply expires after the TTL and the next Acquire takes
// over, logging the previous holder and bumping the fencing token.
//
// A holder keeps its lease with KeepAlive and checks it with Verify before
// publishing results:
//
//	lease, err := locker.Acquire(ctx, "air_quality.duckdb")
//	if err != nil {
//	    return err // *faults.LockTimeoutError on timeout
//	}
//	lease.KeepAlive(ctx)
//	defer lease.Release()
//	...
//	if err := lease.Verify(); err != nil {
//	    return err // lock.ErrLeaseLost: do not upload
//	}
package lock
