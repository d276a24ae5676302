// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package upstream

import (
	"context"
	"errors"
	"iter"
	"net"
	"net/http"
	"time"

	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/logging"
)

// Record is one upstream row as decoded from JSON. Numbers are json.Number.
type Record = map[string]any

// Source produces the records of one pull.
//
// The sequence is finite and cannot be resumed: an error ends it. Calling
// Records again starts a new pull from the first page.
type Source interface {
	Name() string
	Records(ctx context.Context) iter.Seq2[Record, error]
}

// Collect drains src into memory. Any error discards everything read so far.
func Collect(ctx context.Context, src Source) ([]Record, error) {
	var out []Record
	for rec, err := range src.Records(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// RetryPolicy decides how often a single upstream request is attempted.
type RetryPolicy interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// SingleAttempt runs op once and returns its error unchanged.
type SingleAttempt struct{}

// Do implements RetryPolicy.
func (SingleAttempt) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}

// Backoff retries retryable failures with exponential delay.
type Backoff struct {
	// Attempts is the total number of tries; values below 1 mean 1.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Do implements RetryPolicy.
func (b Backoff) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Initial
	if delay <= 0 {
		delay = time.Second
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil || attempt >= attempts || !retryable(err) {
			return err
		}

		logging.Ctx(ctx).Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Upstream request failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}

// retryable reports whether an upstream failure may succeed on retry:
// network errors, 5xx, 408 and 429.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *faults.UpstreamHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 ||
			httpErr.StatusCode == http.StatusRequestTimeout ||
			httpErr.StatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	return errors.As(err, &netErr) || faults.Retryable(err)
}
