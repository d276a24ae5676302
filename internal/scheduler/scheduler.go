// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package scheduler fires named jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/luftdata/internal/jobs"
	"github.com/tomtom215/luftdata/internal/logging"
)

// ErrNotScheduled is returned by NextRun for jobs without a schedule.
var ErrNotScheduled = errors.New("job has no schedule")

// Launcher starts job runs without waiting for them.
type Launcher interface {
	Start(ctx context.Context, name, trigger string) (string, error)
}

// Entry is one scheduled job.
type Entry struct {
	Job  string    `json:"job"`
	Cron string    `json:"cron"`
	Next time.Time `json:"next_run"`
}

type entry struct {
	job  string
	expr *CronExpression
	next time.Time
}

// Scheduler computes the next fire time of every schedule and sleeps until
// the earliest. Runs are started in their own goroutines, so a slow run
// never delays the clock; overlapping runs are serialised by their leases.
type Scheduler struct {
	launcher Launcher
	loc      *time.Location
	logger   zerolog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	entries []*entry
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New parses schedules (job name to cron expression) in the named time
// zone; "" means UTC.
func New(launcher Launcher, schedules map[string]string, timezone string) (*Scheduler, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	s := &Scheduler{
		launcher: launcher,
		loc:      loc,
		logger:   logging.WithComponent("scheduler"),
		now:      time.Now,
		after:    time.After,
	}
	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		expr, err := ParseCron(schedules[name])
		if err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", name, err)
		}
		s.entries = append(s.entries, &entry{job: name, expr: expr})
	}
	return s, nil
}

// Location is the zone schedules are evaluated in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Start launches the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	now := s.now()
	for _, e := range s.entries {
		e.next = e.expr.NextRun(now, s.loc)
	}
	s.mu.Unlock()

	s.logger.Info().Int("schedules", len(s.entries)).Str("timezone", s.loc.String()).Msg("Starting scheduler")
	go s.run(ctx)
	return nil
}

// Stop ends the loop and waits for it. Runs already started continue.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		wake, ok := s.earliest()
		if !ok {
			select {
			case <-s.stopCh:
			case <-ctx.Done():
			}
			return
		}

		select {
		case <-s.after(max(wake.Sub(s.now()), 0)):
			s.fireDue(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) earliest() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wake time.Time
	for _, e := range s.entries {
		if e.next.IsZero() {
			continue
		}
		if wake.IsZero() || e.next.Before(wake) {
			wake = e.next
		}
	}
	return wake, !wake.IsZero()
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()
	var due []string

	s.mu.Lock()
	for _, e := range s.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		due = append(due, e.job)
		// Recompute from now so missed ticks (suspend, clock jumps) collapse
		// into one run.
		e.next = e.expr.NextRun(now, s.loc)
	}
	s.mu.Unlock()

	for _, job := range due {
		runID, err := s.launcher.Start(ctx, job, jobs.TriggerSchedule)
		if err != nil {
			s.logger.Error().Err(err).Str("job", job).Msg("Failed to start scheduled run")
			continue
		}
		s.logger.Debug().Str("job", job).Str("run_id", runID).Msg("Scheduled run started")
	}
}

// Trigger starts name immediately, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) (string, error) {
	return s.launcher.Start(ctx, name, jobs.TriggerManual)
}

// NextRun returns when name fires next.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job != name {
			continue
		}
		if !e.next.IsZero() {
			return e.next, nil
		}
		return e.expr.NextRun(s.now(), s.loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrNotScheduled, name)
}

// Entries lists schedules with their next fire times.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		next := e.next
		if next.IsZero() {
			next = e.expr.NextRun(now, s.loc)
		}
		out = append(out, Entry{Job: e.job, Cron: e.expr.String(), Next: next})
	}
	return out
}
