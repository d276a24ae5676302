// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package history

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadgerStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(0),
		"badger": b,
	}
}

func seed(t *testing.T, s Store) time.Time {
	t.Helper()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	runs := []Run{
		{ID: "a1", Job: "GBGS_update_job", StartedAt: base, Outcome: OutcomeSuccess, Rows: 10},
		{ID: "t1", Job: "TV_update_job", StartedAt: base.Add(1 * time.Minute), Outcome: OutcomeFailure, ErrorCategory: "upstream_http"},
		{ID: "a2", Job: "GBGS_update_job", StartedAt: base.Add(2 * time.Minute), Outcome: OutcomeSuccess, Rows: 3},
		{ID: "m1", Job: "maps_job", StartedAt: base.Add(3 * time.Minute), Outcome: OutcomeSuccess, Details: map[string]any{"matches": 4.0}},
	}
	for _, r := range runs {
		if err := s.Record(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	return base
}

func ids(runs []Run) string {
	s := ""
	for _, r := range runs {
		s += r.ID + ","
	}
	return s
}

func TestStore_List(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, store)
			ctx := context.Background()

			tests := []struct {
				job   string
				limit int
				want  string
			}{
				{"GBGS_update_job", 10, "a2,a1,"},
				{"GBGS_update_job", 1, "a2,"},
				{"", 10, "m1,a2,t1,a1,"},
				{"", 2, "m1,a2,"},
				{"unknown_job", 10, ""},
			}
			for _, tt := range tests {
				runs, err := store.List(ctx, tt.job, tt.limit)
				if err != nil {
					t.Fatalf("List(%q): %v", tt.job, err)
				}
				if got := ids(runs); got != tt.want {
					t.Errorf("List(%q, %d) = %s, want %s", tt.job, tt.limit, got, tt.want)
				}
			}
		})
	}
}

func TestStore_Last(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if r, err := store.Last(ctx, "TV_update_job"); err != nil || r != nil {
				t.Fatalf("empty Last = %v, %v", r, err)
			}

			seed(t, store)
			r, err := store.Last(ctx, "TV_update_job")
			if err != nil || r == nil {
				t.Fatalf("Last = %v, %v", r, err)
			}
			if r.ID != "t1" || r.ErrorCategory != "upstream_http" {
				t.Errorf("Last = %+v", r)
			}

			m, _ := store.Last(ctx, "maps_job")
			if m == nil || m.Details["matches"] != 4.0 {
				t.Errorf("details did not round-trip: %+v", m)
			}
		})
	}
}

func TestBadgerStore_PrefixIsolation(t *testing.T) {
	store := newStores(t)["badger"]
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// "job" must not pick up "job_b" runs.
	for i, job := range []string{"job", "job_b", "job"} {
		r := Run{ID: fmt.Sprintf("r%d", i), Job: job, StartedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := store.List(ctx, "job", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(runs); got != "r2,r0," {
		t.Errorf("List(job) = %s", got)
	}
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, Run{ID: "x", Job: "maps_job", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenBadgerStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()
	r, err := s.Last(ctx, "maps_job")
	if err != nil || r == nil || r.ID != "x" {
		t.Errorf("after reopen Last = %v, %v", r, err)
	}
}

func TestMemoryStore_Bounded(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		_ = s.Record(ctx, Run{ID: fmt.Sprint(i), Job: "j", StartedAt: base.Add(time.Duration(i) * time.Second)})
	}
	runs, _ := s.List(ctx, "", 10)
	if got := ids(runs); got != "4,3,2," {
		t.Errorf("List = %s", got)
	}
}
