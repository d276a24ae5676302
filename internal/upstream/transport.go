// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/luftdata/internal/breaker"
	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/metrics"
)

// maxErrorBodySize limits how much of an error response is kept.
const maxErrorBodySize = 64 * 1024

// DefaultMaxResponseBytes caps a single successful response body.
const DefaultMaxResponseBytes = 256 << 20

// TransportConfig holds the settings shared by both clients.
type TransportConfig struct {
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerSecond paces page requests; 0 disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int     `koanf:"burst" validate:"gte=0"`

	MaxResponseBytes int64 `koanf:"max_response_bytes" validate:"gte=0"`

	UserAgent string `koanf:"user_agent"`

	// Breaker defaults to breaker.DefaultConfig(<source>).
	Breaker *breaker.Config `koanf:"-"`

	// Retry defaults to SingleAttempt.
	Retry RetryPolicy `koanf:"-"`
}

// transport is the HTTP layer both clients share: pacing, circuit breaking,
// status handling and bounded body reads.
type transport struct {
	source   string
	client   *http.Client
	cb       *breaker.Breaker
	limiter  *rate.Limiter
	retry    RetryPolicy
	maxBytes int64
	agent    string
}

func newTransport(source string, cfg TransportConfig, client *http.Client) *transport {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	bcfg := breaker.DefaultConfig(source)
	if cfg.Breaker != nil {
		bcfg = *cfg.Breaker
		bcfg.Name = source
	}
	if bcfg.IsSuccessful == nil {
		bcfg.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	retry := cfg.Retry
	if retry == nil {
		retry = SingleAttempt{}
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}

	agent := cfg.UserAgent
	if agent == "" {
		agent = "luftdata/1.0"
	}

	return &transport{
		source:   source,
		client:   client,
		cb:       breaker.New(bcfg),
		limiter:  limiter,
		retry:    retry,
		maxBytes: maxBytes,
		agent:    agent,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (t *transport) Breaker() *breaker.Breaker { return t.cb }

// do sends one request built by newReq and returns the full 200 body.
func (t *transport) do(ctx context.Context, method, url, contentType string, payload []byte) ([]byte, error) {
	var body []byte
	err := t.retry.Do(ctx, func(ctx context.Context) error {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return t.cb.Execute(func() error {
			var err error
			body, err = t.roundTrip(ctx, method, url, contentType, payload)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (t *transport) roundTrip(ctx context.Context, method, url, contentType string, payload []byte) ([]byte, error) {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", t.source, err)
	}
	req.Header.Set("User-Agent", t.agent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(t.source, 0, time.Since(start))
		return nil, fmt.Errorf("%s request failed: %w", t.source, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordUpstreamRequest(t.source, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, faults.NewUpstreamHTTPError(t.source, url, resp.StatusCode, readBodyForError(resp.Body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", t.source, err)
	}
	if int64(len(data)) > t.maxBytes {
		return nil, &faults.MalformedPayloadError{
			Source: t.source,
			Reason: fmt.Sprintf("response exceeds %d bytes", t.maxBytes),
		}
	}
	return data, nil
}

// readBodyForError reads at most 64KB of an error response.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}
