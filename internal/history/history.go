// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package history records job runs for the ops API.
package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// DefaultLimit is used by List when limit <= 0.
const DefaultLimit = 50

// Run is one finished job execution.
type Run struct {
	ID            string         `json:"id"`
	Job           string         `json:"job"`
	Trigger       string         `json:"trigger"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	DurationMs    int64          `json:"duration_ms"`
	Outcome       string         `json:"outcome"`
	ErrorCategory string         `json:"error_category,omitempty"`
	Error         string         `json:"error,omitempty"`
	RemoteKey     string         `json:"remote_key,omitempty"`
	Rows          int            `json:"rows"`
	Details       map[string]any `json:"details,omitempty"`
}

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run Run) error

	// List returns up to limit runs, newest first. An empty job lists all jobs.
	List(ctx context.Context, job string, limit int) ([]Run, error)

	// Last returns the newest run of job, or nil if there is none.
	Last(ctx context.Context, job string) (*Run, error)

	Close() error
}

// MemoryStore keeps runs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs []Run
	max  int
}

// NewMemoryStore keeps at most maxRuns runs; 0 means 1000.
func NewMemoryStore(maxRuns int) *MemoryStore {
	if maxRuns <= 0 {
		maxRuns = 1000
	}
	return &MemoryStore{max: maxRuns}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	if len(s.runs) > s.max {
		s.runs = slices.Delete(s.runs, 0, len(s.runs)-s.max)
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Run, 0, min(limit, len(s.runs)))
	for _, r := range s.runs {
		if job == "" || r.Job == job {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Last implements Store.
func (s *MemoryStore) Last(ctx context.Context, job string) (*Run, error) {
	runs, err := s.List(ctx, job, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func sortNewestFirst(runs []Run) {
	slices.SortStableFunc(runs, func(a, b Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
}
