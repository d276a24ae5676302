// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/luftdata/internal/events"
	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/history"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/metrics"
)

// ErrUnknownJob is returned for names that were never registered.
var ErrUnknownJob = errors.New("unknown job")

// ErrRunnerStopped is returned by Start after Shutdown.
var ErrRunnerStopped = errors.New("job runner is stopped")

// DefaultRunTimeout bounds a single run.
const DefaultRunTimeout = 30 * time.Minute

// EventPublisher announces finished ingestion runs.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Runner executes registered jobs with run ids, timeouts, metrics, history
// and events.
type Runner struct {
	history   history.Store
	publisher EventPublisher
	timeout   time.Duration

	mu    sync.RWMutex
	jobs  map[string]Job
	order []string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewRunner returns an empty runner. publisher may be nil.
func NewRunner(hist history.Store, publisher EventPublisher, timeout time.Duration) *Runner {
	if hist == nil {
		hist = history.NewMemoryStore(0)
	}
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		history:   hist,
		publisher: publisher,
		timeout:   timeout,
		jobs:      make(map[string]Job),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register adds j. Names must be unique.
func (r *Runner) Register(j Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[j.Name()]; dup {
		return fmt.Errorf("job %q already registered", j.Name())
	}
	r.jobs[j.Name()] = j
	r.order = append(r.order, j.Name())
	return nil
}

// Jobs lists registered names in registration order.
func (r *Runner) Jobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// History exposes the run store.
func (r *Runner) History() history.Store { return r.history }

func (r *Runner) lookup(name string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j, nil
}

// Run executes name synchronously and returns its history record.
func (r *Runner) Run(ctx context.Context, name, trigger string) (history.Run, error) {
	j, err := r.lookup(name)
	if err != nil {
		return history.Run{}, err
	}
	return r.execute(ctx, j, uuid.NewString(), trigger)
}

// Start executes name in the background and returns its run id at once.
// The run outlives ctx but keeps its correlation id; Shutdown cancels it.
func (r *Runner) Start(ctx context.Context, name, trigger string) (string, error) {
	j, err := r.lookup(name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", ErrRunnerStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()

	runID := uuid.NewString()
	runCtx := r.ctx
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		runCtx = logging.ContextWithCorrelationID(runCtx, id)
	}
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(runCtx, j, runID, trigger)
	}()
	return runID, nil
}

// Shutdown cancels background runs and waits for them, or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for job runs: %w", ctx.Err())
	}
}

func (r *Runner) execute(ctx context.Context, j Job, runID, trigger string) (history.Run, error) {
	name := j.Name()
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	ctx = logging.ContextWithRun(ctx, name, runID)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := logging.Ctx(ctx)
	log.Info().Str("trigger", trigger).Msg("Job started")

	metrics.TrackJobInFlight(name, true)
	defer metrics.TrackJobInFlight(name, false)

	started := time.Now()
	summary, err := runSafely(ctx, j)
	finished := time.Now()

	run := history.Run{
		ID:            runID,
		Job:           name,
		Trigger:       trigger,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		StartedAt:     started.UTC(),
		FinishedAt:    finished.UTC(),
		DurationMs:    finished.Sub(started).Milliseconds(),
		Outcome:       history.OutcomeSuccess,
		RemoteKey:     summary.RemoteKey,
		Rows:          summary.Rows,
		Details:       summary.Details,
	}
	if err != nil {
		run.Outcome = history.OutcomeFailure
		run.ErrorCategory = faults.Category(err)
		run.Error = err.Error()
		log.Error().Err(err).Str("category", run.ErrorCategory).Int64("duration_ms", run.DurationMs).Msg("Job failed")
	} else {
		log.Info().Int("rows", run.Rows).Int64("duration_ms", run.DurationMs).Msg("Job finished")
	}
	metrics.RecordJobRun(name, run.Outcome, finished.Sub(started))

	// Record even when the run itself timed out.
	recordCtx := context.WithoutCancel(ctx)
	if herr := r.history.Record(recordCtx, run); herr != nil {
		log.Warn().Err(herr).Msg("Failed to record run history")
	}

	if err == nil && summary.Ingested && r.publisher != nil {
		e := events.Event{
			RunID:      runID,
			Job:        name,
			RemoteKey:  summary.RemoteKey,
			Rows:       summary.Rows,
			FinishedAt: run.FinishedAt,
		}
		if perr := r.publisher.Publish(recordCtx, e); perr != nil {
			log.Warn().Err(perr).Msg("Failed to publish ingestion event")
		}
	}
	return run, err
}

func runSafely(ctx context.Context, j Job) (s Summary, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name(), p)
		}
	}()
	return j.Run(ctx)
}

// MapsTrigger returns an event handler that runs the maps job after every
// ingestion. A failed maps run nacks the event.
func MapsTrigger(r *Runner) events.Handler {
	return func(ctx context.Context, e events.Event) error {
		logging.Ctx(ctx).Debug().Str("source_run_id", e.RunID).Str("source_job", e.Job).Msg("Ingestion event received")
		_, err := r.Run(ctx, MapsJobName, TriggerEvent)
		if errors.Is(err, ErrUnknownJob) {
			return nil
		}
		return err
	}
}
