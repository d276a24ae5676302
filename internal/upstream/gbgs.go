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
	"iter"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/breaker"
	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/logging"
)

// GBGSSourceName labels the Göteborgs Stad air-quality API in metrics and errors.
const GBGSSourceName = "gbgs"

// DefaultMaxPages bounds a single GBGS pull.
const DefaultMaxPages = 10000

// GBGSConfig configures the air-quality client.
type GBGSConfig struct {
	URL       string          `koanf:"url" validate:"required,http_url"`
	MaxPages  int             `koanf:"max_pages" validate:"gte=0"`
	Transport TransportConfig `koanf:"transport"`
}

// GBGSClient pulls paginated air-quality records. Each page is
// {"results": [...], "next": "<url>"|null}.
type GBGSClient struct {
	baseURL  string
	maxPages int
	t        *transport
}

// NewGBGSClient creates a client. httpClient may be nil.
func NewGBGSClient(cfg GBGSConfig, httpClient *http.Client) (*GBGSClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("gbgs: url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("gbgs: invalid url: %w", err)
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &GBGSClient{
		baseURL:  cfg.URL,
		maxPages: maxPages,
		t:        newTransport(GBGSSourceName, cfg.Transport, httpClient),
	}, nil
}

// Name implements Source.
func (c *GBGSClient) Name() string { return GBGSSourceName }

// Breaker returns the client's circuit breaker.
func (c *GBGSClient) Breaker() *breaker.Breaker { return c.t.Breaker() }

// Records implements Source. Results are yielded in page order. A next URL
// that was already visited, or more than MaxPages pages, ends the pull with
// a MalformedPayloadError.
func (c *GBGSClient) Records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		log := logging.Ctx(ctx).With().Str("source", GBGSSourceName).Logger()
		visited := make(map[string]struct{})
		next := c.baseURL

		for page := 1; next != ""; page++ {
			if page > c.maxPages {
				yield(nil, &faults.MalformedPayloadError{
					Source: GBGSSourceName,
					Reason: fmt.Sprintf("pagination exceeded %d pages", c.maxPages),
				})
				return
			}
			if _, seen := visited[next]; seen {
				yield(nil, &faults.MalformedPayloadError{
					Source: GBGSSourceName,
					Reason: fmt.Sprintf("pagination loop detected at page %d: %s", page, next),
				})
				return
			}
			visited[next] = struct{}{}

			body, err := c.t.do(ctx, http.MethodGet, next, "", nil)
			if err != nil {
				yield(nil, err)
				return
			}

			results, nextURL, err := decodeGBGSPage(body)
			if err != nil {
				yield(nil, err)
				return
			}
			log.Debug().Int("page", page).Int("results", len(results)).Msg("Fetched page")

			for _, rec := range results {
				if !yield(rec, nil) {
					return
				}
			}

			if nextURL != "" {
				resolved, err := resolveNext(next, nextURL)
				if err != nil {
					yield(nil, err)
					return
				}
				nextURL = resolved
			}
			next = nextURL
		}
	}
}

type gbgsPage struct {
	Results json.RawMessage `json:"results"`
	Next    json.RawMessage `json:"next"`
}

func decodeGBGSPage(body []byte) ([]Record, string, error) {
	malformed := func(reason string, cause error) error {
		return &faults.MalformedPayloadError{Source: GBGSSourceName, Reason: reason, Cause: cause}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, "", malformed("page is not a JSON object", nil)
	}
	var page gbgsPage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, "", malformed("page is not valid JSON", err)
	}

	raw := bytes.TrimSpace(page.Results)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, "", malformed("results is not an array", nil)
	}
	results, err := decodeRecords(raw)
	if err != nil {
		return nil, "", malformed("results contains a non-object element", err)
	}

	var next string
	if n := bytes.TrimSpace(page.Next); len(n) > 0 && !bytes.Equal(n, []byte("null")) {
		if err := json.Unmarshal(n, &next); err != nil {
			return nil, "", malformed("next is not a string", err)
		}
	}
	return results, next, nil
}

// decodeRecords decodes a JSON array of objects, keeping numbers as json.Number.
func decodeRecords(raw []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("element %d is null", i)
		}
	}
	return records, nil
}

// resolveNext allows relative next links.
func resolveNext(current, next string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", &faults.MalformedPayloadError{Source: GBGSSourceName, Reason: "invalid page url", Cause: err}
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", &faults.MalformedPayloadError{Source: GBGSSourceName, Reason: "invalid next url", Cause: err}
	}
	return base.ResolveReference(ref).String(), nil
}
