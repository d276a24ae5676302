// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package upstream implements the two ingestion sources.
//
//   - GBGSClient: Göteborgs Stad air-quality API, GET with "next" pagination
//   - TrafikverketClient: Trafikverket TrafficFlow API, one XML POST per pull
//
// Both expose Records as an iter.Seq2 so callers range over rows and stop
// at the first error:
//
//	for rec, err := range client.Records(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
//
// Each client owns a circuit breaker (metrics label = source name) and an
// optional x/time/rate limiter. Requests are attempted once unless a
// Backoff RetryPolicy is configured.
//
// Errors:
//   - non-200: *faults.UpstreamHTTPError with at most 64KB of body
//   - unexpected shape or pagination loop: *faults.MalformedPayloadError
package upstream
