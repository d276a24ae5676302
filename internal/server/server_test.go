// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/luftdata/internal/history"
	"github.com/tomtom215/luftdata/internal/jobs"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/metrics"
	"github.com/tomtom215/luftdata/internal/scheduler"
)

type fakeRegistry struct {
	names []string
	hist  history.Store
}

func (f *fakeRegistry) Jobs() []string         { return f.names }
func (f *fakeRegistry) History() history.Store { return f.hist }

type trigger struct {
	job           string
	correlationID string
}

type fakeScheduler struct {
	entries []scheduler.Entry
	known   map[string]bool
	err     error

	mu        sync.Mutex
	triggered []trigger
}

func (f *fakeScheduler) Entries() []scheduler.Entry { return f.entries }

func (f *fakeScheduler) Trigger(ctx context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if !f.known[name] {
		return "", fmt.Errorf("%w: %s", jobs.ErrUnknownJob, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, trigger{name, logging.CorrelationIDFromContext(ctx)})
	return fmt.Sprintf("run-%d", len(f.triggered)), nil
}

var nextTV = time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC)

func newTestServer(t *testing.T, probes ...Probe) (*Server, *fakeScheduler, history.Store) {
	t.Helper()
	hist := history.NewMemoryStore(0)
	registry := &fakeRegistry{
		names: []string{jobs.GBGSJobName, jobs.TVJobName, jobs.MapsJobName},
		hist:  hist,
	}
	sched := &fakeScheduler{
		entries: []scheduler.Entry{{Job: jobs.TVJobName, Cron: "*/15 * * * *", Next: nextTV}},
		known:   map[string]bool{jobs.GBGSJobName: true, jobs.TVJobName: true, jobs.MapsJobName: true},
	}
	cfg := Config{Middleware: MiddlewareConfig{
		CORSAllowedOrigins: []string{"https://dash.example.org"},
		TriggerRateLimit:   2,
		TriggerRateWindow:  time.Minute,
	}}
	return New(cfg, registry, sched, probes...), sched, hist
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body Response
	if ct := rec.Header().Get("Content-Type"); ct == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return rec, body
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		probes     []Probe
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no probes",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all ready",
			probes: []Probe{
				{Name: "blobstore", Check: func(context.Context) error { return nil }},
				{Name: "scheduler", Check: func(context.Context) error { return nil }},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"blobstore": "ok", "scheduler": "ok"},
		},
		{
			name: "breaker open",
			probes: []Probe{
				{Name: "blobstore", Check: func(context.Context) error { return errors.New("circuit breaker azure-blob is open") }},
				{Name: "scheduler", Check: func(context.Context) error { return nil }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"blobstore": "circuit breaker azure-blob is open", "scheduler": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t, tt.probes...)
			h := s.Handler()

			if rec, _ := do(t, h, http.MethodGet, "/healthz/live", nil); rec.Code != http.StatusOK {
				t.Errorf("live = %d", rec.Code)
			}

			rec, _ := do(t, h, http.MethodGet, "/healthz/ready", nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("ready = %d, want %d", rec.Code, tt.wantStatus)
			}
			var got ReadyStatus
			decodeData(t, rec, &got)
			if diff := cmp.Diff(tt.wantChecks, got.Checks); diff != "" {
				t.Errorf("checks (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJobs(t *testing.T) {
	s, _, hist := newTestServer(t)
	last := history.Run{
		ID:         "r1",
		Job:        jobs.GBGSJobName,
		Trigger:    jobs.TriggerSchedule,
		StartedAt:  time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 10, 19, 8, 1, 0, 0, time.UTC),
		Outcome:    history.OutcomeSuccess,
		Rows:       12,
	}
	if err := hist.Record(context.Background(), last); err != nil {
		t.Fatal(err)
	}

	rec, _ := do(t, s.Handler(), http.MethodGet, "/api/v1/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var got []JobStatus
	decodeData(t, rec, &got)

	next := nextTV
	want := []JobStatus{
		{Name: jobs.GBGSJobName, LastRun: &last},
		{Name: jobs.TVJobName, Cron: "*/15 * * * *", NextRun: &next},
		{Name: jobs.MapsJobName},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name       string
		job        string
		schedErr   error
		wantStatus int
		wantCode   string
	}{
		{name: "accepted", job: jobs.TVJobName, wantStatus: http.StatusAccepted},
		{name: "unknown job", job: "nope", wantStatus: http.StatusNotFound, wantCode: "UNKNOWN_JOB"},
		{name: "shutting down", job: jobs.TVJobName, schedErr: jobs.ErrRunnerStopped, wantStatus: http.StatusServiceUnavailable, wantCode: "SHUTTING_DOWN"},
		{name: "other failure", job: jobs.TVJobName, schedErr: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "TRIGGER_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, sched, _ := newTestServer(t)
			sched.err = tt.schedErr

			rec, body := do(t, s.Handler(), http.MethodPost, "/api/v1/jobs/"+tt.job+"/run", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantCode != "" {
				if body.Error == nil || body.Error.Code != tt.wantCode {
					t.Errorf("error = %+v, want code %s", body.Error, tt.wantCode)
				}
				return
			}
			var got TriggerResponse
			decodeData(t, rec, &got)
			if diff := cmp.Diff(TriggerResponse{Job: tt.job, RunID: "run-1"}, got); diff != "" {
				t.Errorf("response (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTrigger_CorrelationID(t *testing.T) {
	s, sched, _ := newTestServer(t)
	h := s.Handler()

	rec, _ := do(t, h, http.MethodPost, "/api/v1/jobs/"+jobs.MapsJobName+"/run",
		http.Header{CorrelationIDHeader: {"dashboard-7"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodPost, "/api/v1/jobs/"+jobs.MapsJobName+"/run", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	requestID := rec.Header().Get("X-Request-Id")

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if sched.triggered[0].correlationID != "dashboard-7" {
		t.Errorf("explicit correlation id = %q", sched.triggered[0].correlationID)
	}
	if requestID == "" || sched.triggered[1].correlationID != requestID {
		t.Errorf("correlation id = %q, want request id %q", sched.triggered[1].correlationID, requestID)
	}
}

func TestTrigger_RateLimited(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	var codes []int
	for i := 0; i < 3; i++ {
		rec, _ := do(t, h, http.MethodPost, "/api/v1/jobs/"+jobs.GBGSJobName+"/run", nil)
		codes = append(codes, rec.Code)
	}
	want := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("codes (-want +got):\n%s", diff)
	}

	// Reads are not limited.
	for i := 0; i < 3; i++ {
		if rec, _ := do(t, h, http.MethodGet, "/api/v1/jobs", nil); rec.Code != http.StatusOK {
			t.Errorf("GET jobs = %d", rec.Code)
		}
	}
}

func TestRuns(t *testing.T) {
	s, _, hist := newTestServer(t)
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	for i, job := range []string{jobs.GBGSJobName, jobs.TVJobName, jobs.TVJobName} {
		run := history.Run{
			ID:         fmt.Sprintf("r%d", i),
			Job:        job,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			Outcome:    history.OutcomeSuccess,
		}
		if err := hist.Record(context.Background(), run); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []string
	}{
		{name: "all", query: "", wantStatus: http.StatusOK, wantIDs: []string{"r2", "r1", "r0"}},
		{name: "by job", query: "?job=" + jobs.TVJobName, wantStatus: http.StatusOK, wantIDs: []string{"r2", "r1"}},
		{name: "limit", query: "?limit=1", wantStatus: http.StatusOK, wantIDs: []string{"r2"}},
		{name: "no runs", query: "?job=" + jobs.MapsJobName, wantStatus: http.StatusOK, wantIDs: []string{}},
		{name: "limit not a number", query: "?limit=ten", wantStatus: http.StatusBadRequest},
		{name: "limit too large", query: "?limit=5000", wantStatus: http.StatusBadRequest},
		{name: "limit zero", query: "?limit=0", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, s.Handler(), http.MethodGet, "/api/v1/runs"+tt.query, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				if body.Error == nil || body.Error.Code != "VALIDATION_ERROR" {
					t.Errorf("error = %+v", body.Error)
				}
				return
			}
			var runs []history.Run
			decodeData(t, rec, &runs)
			ids := make([]string, 0, len(runs))
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRouting(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"unknown path", http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/v1/jobs", http.StatusMethodNotAllowed},
		{"trigger needs POST", http.MethodGet, "/api/v1/jobs/maps_job/run", http.StatusMethodNotAllowed},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec, _ := do(t, h, tt.method, tt.target, nil); rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.target, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name      string
		origin    string
		wantAllow string
	}{
		{"configured origin", "https://dash.example.org", "https://dash.example.org"},
		{"other origin", "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, h, http.MethodGet, "/api/v1/jobs", http.Header{"Origin": {tt.origin}})
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestAccessLog_RecordsRoutePattern(t *testing.T) {
	s, _, _ := newTestServer(t)
	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/jobs/{name}/run", "202")
	before := testutil.ToFloat64(counter)

	if rec, _ := do(t, s.Handler(), http.MethodPost, "/api/v1/jobs/"+jobs.TVJobName+"/run", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("request counter delta = %v, want 1", got)
	}
}
