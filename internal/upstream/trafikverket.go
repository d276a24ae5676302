// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package upstream

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/breaker"
	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/logging"
)

// TrafikverketSourceName labels the Trafikverket API in metrics and errors.
const TrafikverketSourceName = "trafikverket"

// DefaultCountyNo is Västra Götaland.
const DefaultCountyNo = 14

// XMLContentType is sent with the query body.
const XMLContentType = "text/xml; charset=utf-8"

// TrafikverketConfig configures the traffic-flow client.
type TrafikverketConfig struct {
	URL       string          `koanf:"url" validate:"required,http_url"`
	APIKey    string          `koanf:"api_key" validate:"required"`
	CountyNo  int             `koanf:"county_no" validate:"gte=0,lte=99"`
	Transport TransportConfig `koanf:"transport"`
}

// TrafikverketClient fetches TrafficFlow objects for one county with a
// single XML POST. The JSON answer is RESPONSE.RESULT[0].TrafficFlow.
type TrafikverketClient struct {
	url      string
	apiKey   string
	countyNo int
	t        *transport
}

// NewTrafikverketClient creates a client. httpClient may be nil.
func NewTrafikverketClient(cfg TrafikverketConfig, httpClient *http.Client) (*TrafikverketClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("trafikverket: url is required")
	}
	county := cfg.CountyNo
	if county == 0 {
		county = DefaultCountyNo
	}
	return &TrafikverketClient{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		countyNo: county,
		t:        newTransport(TrafikverketSourceName, cfg.Transport, httpClient),
	}, nil
}

// Name implements Source.
func (c *TrafikverketClient) Name() string { return TrafikverketSourceName }

// Breaker returns the client's circuit breaker.
func (c *TrafikverketClient) Breaker() *breaker.Breaker { return c.t.Breaker() }

type tvRequest struct {
	XMLName xml.Name `xml:"REQUEST"`
	Login   tvLogin  `xml:"LOGIN"`
	Query   tvQuery  `xml:"QUERY"`
}

type tvLogin struct {
	AuthenticationKey string `xml:"authenticationkey,attr"`
}

type tvQuery struct {
	ObjectType    string   `xml:"objecttype,attr"`
	SchemaVersion string   `xml:"schemaversion,attr"`
	Filter        tvFilter `xml:"FILTER"`
}

type tvFilter struct {
	EQ []tvEQ `xml:"EQ"`
}

type tvEQ struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RequestBody renders the XML query.
func (c *TrafikverketClient) RequestBody() ([]byte, error) {
	req := tvRequest{
		Login: tvLogin{AuthenticationKey: c.apiKey},
		Query: tvQuery{
			ObjectType:    "TrafficFlow",
			SchemaVersion: "1",
			Filter: tvFilter{EQ: []tvEQ{
				{Name: "CountyNo", Value: strconv.Itoa(c.countyNo)},
			}},
		},
	}
	out, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode trafikverket request: %w", err)
	}
	return out, nil
}

// Records implements Source. A response without RESPONSE, RESULT or
// TrafficFlow yields a MalformedPayloadError and no records.
func (c *TrafikverketClient) Records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		payload, err := c.RequestBody()
		if err != nil {
			yield(nil, err)
			return
		}

		body, err := c.t.do(ctx, http.MethodPost, c.url, XMLContentType, payload)
		if err != nil {
			yield(nil, err)
			return
		}

		records, err := decodeTrafficFlow(body)
		if err != nil {
			yield(nil, err)
			return
		}
		logging.Ctx(ctx).Debug().
			Str("source", TrafikverketSourceName).
			Int("county_no", c.countyNo).
			Int("records", len(records)).
			Msg("Fetched traffic flow")

		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

type tvResponse struct {
	Response *struct {
		Result []map[string]json.RawMessage `json:"RESULT"`
	} `json:"RESPONSE"`
}

func decodeTrafficFlow(body []byte) ([]Record, error) {
	malformed := func(reason string, cause error) error {
		return &faults.MalformedPayloadError{Source: TrafikverketSourceName, Reason: reason, Cause: cause}
	}

	var resp tvResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("response is not a JSON object", err)
	}
	if resp.Response == nil {
		return nil, malformed("missing RESPONSE", nil)
	}
	if len(resp.Response.Result) == 0 {
		return nil, malformed("missing or empty RESULT", nil)
	}
	raw, ok := resp.Response.Result[0]["TrafficFlow"]
	if !ok {
		if msg, hasErr := resp.Response.Result[0]["ERROR"]; hasErr {
			return nil, malformed("api error: "+string(msg), nil)
		}
		return nil, malformed("missing TrafficFlow", nil)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, malformed("TrafficFlow is not an array", nil)
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, malformed("TrafficFlow contains a non-object element", err)
	}
	return records, nil
}
