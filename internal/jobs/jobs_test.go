// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package jobs

import (
	"context"
	"errors"
	"iter"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/blobstore"
	"github.com/tomtom215/luftdata/internal/checkout"
	"github.com/tomtom215/luftdata/internal/database"
	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/geo"
	"github.com/tomtom215/luftdata/internal/history"
	"github.com/tomtom215/luftdata/internal/ingest"
	"github.com/tomtom215/luftdata/internal/lock"
	"github.com/tomtom215/luftdata/internal/maps"
	"github.com/tomtom215/luftdata/internal/matcher"
	"github.com/tomtom215/luftdata/internal/upstream"
)

const testDBKey = "air_quality.duckdb"

type recordSource struct {
	name    string
	records []upstream.Record
	err     error
}

func (s recordSource) Name() string { return s.name }

func (s recordSource) Records(context.Context) iter.Seq2[upstream.Record, error] {
	return func(yield func(upstream.Record, error) bool) {
		for _, r := range s.records {
			if !yield(r, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func newManager(t *testing.T, store blobstore.Store) *checkout.Manager {
	t.Helper()
	locker, err := lock.NewFileLocker(lock.Config{
		Dir:          filepath.Join(t.TempDir(), "locks"),
		TTL:          5 * time.Second,
		Timeout:      5 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return checkout.New(store, locker, checkout.Options{
		TempDir:  t.TempDir(),
		Database: database.Options{Threads: 1, MaxMemory: "256MB"},
	})
}

func trafficRecords() []upstream.Record {
	rec := func(site int, when, wkt string) upstream.Record {
		return upstream.Record{
			"SiteId":          json.Number(strconv.Itoa(site)),
			"MeasurementTime": when,
			"VehicleFlowRate": json.Number("120"),
			"Geometry":        map[string]any{"WGS84": wkt},
		}
	}
	return []upstream.Record{
		rec(1001, "2026-10-19T08:00:00.000+02:00", "POINT (11.98 57.71)"),
		rec(1002, "2026-10-19T08:00:00.000+02:00", "POINT (11.50 57.50)"),
		rec(1001, "2026-10-19T08:15:00.000+02:00", "POINT (11.98 57.71)"),
	}
}

func writeStations(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "monitoring_stations.json")
	body := `{"locations":[{"name":"Femman","coordinates":[57.70,11.97]}]}`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestIngestJob_UploadsOnSuccess(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := newManager(t, store)
	job := NewIngestJob(TVJobName, m, testDBKey, recordSource{name: "trafikverket", records: trafficRecords()}, ingest.TrafficFlowTable())

	s, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !s.Ingested || s.Rows != 3 || s.RemoteKey != testDBKey {
		t.Errorf("summary = %+v", s)
	}
	if s.Details["table"] != "traffic_flow_data.tv_traffic_flow_data" {
		t.Errorf("details = %v", s.Details)
	}
	if store.Uploads(testDBKey) != 1 {
		t.Errorf("uploads = %d, want 1", store.Uploads(testDBKey))
	}
}

func TestIngestJob_FailureUploadsNothing(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := newManager(t, store)
	boom := errors.New("connection reset")
	job := NewIngestJob(GBGSJobName, m, testDBKey, recordSource{name: "gbgs", err: boom}, ingest.AirQualityTable())

	_, err := job.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if store.Uploads(testDBKey) != 0 {
		t.Errorf("uploads = %d, want 0", store.Uploads(testDBKey))
	}
}

func TestMapsJob_PublishesArtifacts(t *testing.T) {
	store := blobstore.NewMemoryStore()
	m := newManager(t, store)
	ctx := context.Background()

	ingestJob := NewIngestJob(TVJobName, m, testDBKey, recordSource{name: "trafikverket", records: trafficRecords()}, ingest.TrafficFlowTable())
	if _, err := ingestJob.Run(ctx); err != nil {
		t.Fatal(err)
	}
	dbUploads := store.Uploads(testDBKey)

	job := NewMapsJob(m, store, testDBKey, writeStations(t))
	s, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Ingested {
		t.Error("maps job must not announce ingestion")
	}
	if s.Details["detectors"] != 2 || s.Details["matches"] != 1 {
		t.Errorf("details = %v", s.Details)
	}
	if store.Uploads(testDBKey) != dbUploads {
		t.Error("maps job uploaded the database")
	}

	for _, key := range []string{maps.StationsKey, maps.DetectorsKey, maps.MergedKey} {
		data, attrs, ok := store.Get(key)
		if !ok {
			t.Errorf("%s not uploaded", key)
			continue
		}
		if attrs.ContentType != maps.HTMLContentType || !strings.Contains(string(data), "<html") {
			t.Errorf("%s: content type %q", key, attrs.ContentType)
		}
	}

	data, attrs, ok := store.Get(maps.MatchesKey)
	if !ok {
		t.Fatal("matches not uploaded")
	}
	if attrs.ContentType != maps.JSONContentType {
		t.Errorf("matches content type = %q", attrs.ContentType)
	}
	var matches []matcher.StationDetectorMatch
	if err := json.Unmarshal(data, &matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].DetectorID != 1001 || matches[0].StationName != "Femman" {
		t.Fatalf("matches = %+v", matches)
	}
	want := geo.GeodesicKm(geo.Coordinate{Lat: 57.70, Lon: 11.97}, geo.Coordinate{Lat: 57.71, Lon: 11.98})
	if got := matches[0].DistanceKm; math.Abs(got-want) > 1e-9 {
		t.Errorf("distance_km = %v, want geodesic %v", got, want)
	}
}

func TestMapsJob_NoDetectors(t *testing.T) {
	store := blobstore.NewMemoryStore()
	job := NewMapsJob(newManager(t, store), store, testDBKey, writeStations(t))

	s, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Rows != 0 {
		t.Errorf("rows = %d", s.Rows)
	}
	for key, want := range map[string]bool{
		maps.StationsKey:  true,
		maps.DetectorsKey: true,
		maps.MergedKey:    false,
		maps.MatchesKey:   false,
	} {
		if _, _, ok := store.Get(key); ok != want {
			t.Errorf("%s uploaded = %v, want %v", key, ok, want)
		}
	}
	if store.Uploads(testDBKey) != 0 {
		t.Error("read-only checkout uploaded the database")
	}
}

func TestMapsJob_MissingStations(t *testing.T) {
	store := blobstore.NewMemoryStore()
	job := NewMapsJob(newManager(t, store), store, testDBKey, filepath.Join(t.TempDir(), "missing.json"))
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing stations file")
	}
	if len(store.Keys()) != 0 {
		t.Errorf("uploaded %v", store.Keys())
	}
}

func TestRunner_ContendedLeaseIsLockTimeout(t *testing.T) {
	store := blobstore.NewMemoryStore()
	locker, err := lock.NewFileLocker(lock.Config{
		Dir:          filepath.Join(t.TempDir(), "locks"),
		TTL:          time.Minute,
		Timeout:      time.Minute,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	m := checkout.New(store, locker, checkout.Options{
		TempDir:  t.TempDir(),
		Database: database.Options{Threads: 1, MaxMemory: "256MB"},
	})

	held, err := locker.Acquire(context.Background(), testDBKey)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	// The run timeout is shorter than the lock timeout, so the run deadline
	// ends the wait.
	r := NewRunner(history.NewMemoryStore(0), nil, 300*time.Millisecond)
	job := NewIngestJob(TVJobName, m, testDBKey, recordSource{name: "trafikverket", records: trafficRecords()}, ingest.TrafficFlowTable())
	if err := r.Register(job); err != nil {
		t.Fatal(err)
	}

	run, err := r.Run(context.Background(), TVJobName, TriggerSchedule)
	var timeout *faults.LockTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Run error = %v, want LockTimeoutError", err)
	}
	if run.ErrorCategory != faults.CategoryLockTimeout {
		t.Errorf("category = %q, want %q", run.ErrorCategory, faults.CategoryLockTimeout)
	}
	if !faults.Retryable(err) {
		t.Error("contention should be retryable")
	}
	if len(store.Keys()) != 0 {
		t.Errorf("uploaded %v while the lease was held elsewhere", store.Keys())
	}
}
