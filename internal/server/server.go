// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/luftdata/internal/history"
	"github.com/tomtom215/luftdata/internal/jobs"
	"github.com/tomtom215/luftdata/internal/scheduler"
)

// probeTimeout bounds each readiness check.
const probeTimeout = 2 * time.Second

// Registry lists registered jobs and their run history.
type Registry interface {
	Jobs() []string
	History() history.Store
}

// Scheduler exposes schedules and manual triggers.
type Scheduler interface {
	Entries() []scheduler.Entry
	Trigger(ctx context.Context, name string) (string, error)
}

// Probe is one readiness check. Check returns nil when ready.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config configures the HTTP surface.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Middleware      MiddlewareConfig
}

// Server serves health, metrics and the job API.
type Server struct {
	cfg       Config
	registry  Registry
	scheduler Scheduler
	probes    []Probe
	mw        *Middleware
	startTime time.Time
}

// New builds a server. probes feed /healthz/ready.
func New(cfg Config, registry Registry, sched Scheduler, probes ...Probe) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		scheduler: sched,
		probes:    probes,
		mw:        NewMiddleware(cfg.Middleware),
		startTime: time.Now(),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.mw.CORS())
	r.Use(AccessLog)

	r.Route("/healthz", func(r chi.Router) {
		r.Get("/live", s.handleLive)
		r.Get("/ready", s.handleReady)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs", s.handleJobs)
		r.With(s.mw.TriggerRateLimit()).Post("/jobs/{name}/run", s.handleTrigger)
		r.Get("/runs", s.handleRuns)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

// HTTPServer returns an *http.Server for the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
}

// ShutdownTimeout is how long in-flight requests get on shutdown.
func (s *Server) ShutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return s.cfg.ShutdownTimeout
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"alive":  true,
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

// ReadyStatus is the /healthz/ready body.
type ReadyStatus struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := ReadyStatus{Ready: true, Checks: make(map[string]string, len(s.probes))}
	for _, p := range s.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()
		if err != nil {
			status.Ready = false
			status.Checks[p.Name] = err.Error()
			continue
		}
		status.Checks[p.Name] = "ok"
	}

	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

// JobStatus is one entry of GET /api/v1/jobs.
type JobStatus struct {
	Name    string       `json:"name"`
	Cron    string       `json:"cron,omitempty"`
	NextRun *time.Time   `json:"next_run,omitempty"`
	LastRun *history.Run `json:"last_run,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	entries := make(map[string]scheduler.Entry)
	if s.scheduler != nil {
		for _, e := range s.scheduler.Entries() {
			entries[e.Job] = e
		}
	}

	names := s.registry.Jobs()
	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		js := JobStatus{Name: name}
		if e, ok := entries[name]; ok {
			js.Cron = e.Cron
			if !e.Next.IsZero() {
				next := e.Next
				js.NextRun = &next
			}
		}
		last, err := s.registry.History().Last(r.Context(), name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to read run history", err)
			return
		}
		js.LastRun = last
		out = append(out, js)
	}
	respondJSON(w, http.StatusOK, out)
}

// TriggerResponse is the 202 body of a manual trigger.
type TriggerResponse struct {
	Job   string `json:"job"`
	RunID string `json:"run_id"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Scheduler is not running", nil)
		return
	}

	runID, err := s.scheduler.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		respondError(w, http.StatusNotFound, "UNKNOWN_JOB", "Unknown job: "+name, nil)
		return
	case errors.Is(err, jobs.ErrRunnerStopped):
		respondError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Job runner is shutting down", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "TRIGGER_FAILED", "Failed to start job", err)
		return
	}
	respondJSON(w, http.StatusAccepted, TriggerResponse{Job: name, RunID: runID})
}

// RunsQuery holds GET /api/v1/runs parameters.
type RunsQuery struct {
	Job   string `json:"job" validate:"omitempty,max=128"`
	Limit int    `json:"limit" validate:"gte=1,lte=1000"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := getIntParam(r, "limit", history.DefaultLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	q := RunsQuery{Job: r.URL.Query().Get("job"), Limit: limit}
	if apiErr := validateRequest(&q); apiErr != nil {
		writeAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	runs, err := s.registry.History().List(r.Context(), q.Job, q.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to read run history", err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}
