// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package config

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tomtom215/luftdata/internal/events"
	"github.com/tomtom215/luftdata/internal/lock"
)

// minimalEnv makes defaults loadable without cloud credentials.
func minimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("LUFTDATA_STORAGE_BACKEND", StorageMemory)
	t.Setenv("GOTEBORGS_STAD_API_URL", "https://data.goteborg.se/api/air")
	t.Setenv("TRAFIKVERKET_API_KEY", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Container != "dagster-storage" || cfg.Storage.DatabasePath != "air_quality.duckdb" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Trafikverket.CountyNo != 14 {
		t.Errorf("county = %d, want 14", cfg.Trafikverket.CountyNo)
	}
	if cfg.Events.Backend != events.BackendGoChannel {
		t.Errorf("events backend = %q", cfg.Events.Backend)
	}
	wantSchedules := map[string]string{"gbgs": "0 * * * *", "tv": "*/15 * * * *"}
	if diff := cmp.Diff(wantSchedules, cfg.Schedules("gbgs", "tv")); diff != "" {
		t.Errorf("schedules (-want +got):\n%s", diff)
	}
	if cfg.MapsRemoteKey() != "air_quality.duckdb" {
		t.Errorf("maps remote key = %q", cfg.MapsRemoteKey())
	}
	if cfg.Lock.TTL != lock.DefaultTTL {
		t.Errorf("lease ttl = %v, want %v", cfg.Lock.TTL, lock.DefaultTTL)
	}
	// A contended lease must time out before the run does.
	if cfg.Lock.Timeout >= cfg.Jobs.RunTimeout {
		t.Errorf("lock timeout %v not below run timeout %v", cfg.Lock.Timeout, cfg.Jobs.RunTimeout)
	}
}

func TestLoad_File(t *testing.T) {
	minimalEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
storage:
  container: luftdata-test
  database_path: data/traffic.duckdb
lock:
  timeout: 2m
jobs:
  timezone: Europe/Stockholm
  run_timeout: 5m
  gbgs:
    enabled: false
  trafikverket:
    schedule: "*/5 * * * *"
    remote_key: data/tv.duckdb
server:
  port: 9090
  cors_origins:
    - https://maps.example.org
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Container != "luftdata-test" {
		t.Errorf("container = %q", cfg.Storage.Container)
	}
	if cfg.Jobs.RunTimeout != 5*time.Minute || cfg.Lock.Timeout != 2*time.Minute {
		t.Errorf("run timeout = %v, lock timeout = %v", cfg.Jobs.RunTimeout, cfg.Lock.Timeout)
	}
	if diff := cmp.Diff(map[string]string{"tv": "*/5 * * * *"}, cfg.Schedules("gbgs", "tv")); diff != "" {
		t.Errorf("schedules (-want +got):\n%s", diff)
	}
	if got := cfg.GBGSRemoteKey(); got != "data/traffic.duckdb" {
		t.Errorf("gbgs remote key = %q", got)
	}
	if got := cfg.MapsRemoteKey(); got != "data/tv.duckdb" {
		t.Errorf("maps remote key = %q", got)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if diff := cmp.Diff([]string{"https://maps.example.org"}, cfg.Server.CORSOrigins); diff != "" {
		t.Errorf("cors (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	minimalEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LUFTDATA_SERVER_PORT", "7070")
	t.Setenv("LUFTDATA_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AZURE_STORAGE_ACCOUNT_CONTAINER", "from-env")
	t.Setenv("LUFTDATA_TV_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env value", cfg.Server.Port)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins); diff != "" {
		t.Errorf("cors (-want +got):\n%s", diff)
	}
	if cfg.Storage.Container != "from-env" {
		t.Errorf("container = %q", cfg.Storage.Container)
	}
	if cfg.Jobs.Trafikverket.Enabled {
		t.Error("trafikverket job should be disabled")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Storage.ConnectionString = "UseDevelopmentStorage=true"
		cfg.GBGS.URL = "https://data.goteborg.se/api/air"
		cfg.Trafikverket.APIKey = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "azure without credentials",
			mutate:  func(c *Config) { c.Storage.ConnectionString = "" },
			wantErr: "connection_string or account_name",
		},
		{
			name: "azure with account key",
			mutate: func(c *Config) {
				c.Storage.ConnectionString = ""
				c.Storage.AccountName = "devstoreaccount1"
				c.Storage.AccountKey = "a2V5"
			},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "s3" },
			wantErr: "storage.backend",
		},
		{
			name:    "bad remote key",
			mutate:  func(c *Config) { c.Storage.DatabasePath = "../escape.duckdb" },
			wantErr: "storage.database_path",
		},
		{
			name:    "missing trafikverket key",
			mutate:  func(c *Config) { c.Trafikverket.APIKey = "" },
			wantErr: "trafikverket",
		},
		{
			name: "disabled source is not checked",
			mutate: func(c *Config) {
				c.Trafikverket.APIKey = ""
				c.Jobs.Trafikverket.Enabled = false
			},
		},
		{
			name:    "bad schedule",
			mutate:  func(c *Config) { c.Jobs.GBGS.Schedule = "0 25 * * *" },
			wantErr: "schedule",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Jobs.Timezone = "Mars/Olympus" },
			wantErr: "jobs.timezone",
		},
		{
			name:    "nats without url",
			mutate:  func(c *Config) { c.Events.Backend = events.BackendNATS },
			wantErr: "nats_url",
		},
		{
			name: "lock timeout not below run timeout",
			mutate: func(c *Config) {
				c.Lock.Timeout = 30 * time.Minute
				c.Jobs.RunTimeout = 30 * time.Minute
			},
			wantErr: "lock.timeout",
		},
		{
			name: "no run timeout leaves lock timeout free",
			mutate: func(c *Config) {
				c.Lock.Timeout = time.Hour
				c.Jobs.RunTimeout = 0
			},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestStorageConfig_Azure(t *testing.T) {
	s := defaultConfig().Storage
	s.BreakerThreshold = 7
	s.BreakerTimeout = 0
	az := s.Azure()
	if az.Breaker.Name != "azure-blob" || az.Breaker.FailureThreshold != 7 {
		t.Errorf("breaker = %+v", az.Breaker)
	}
	if az.Breaker.Timeout <= 0 {
		t.Error("breaker timeout should keep its default")
	}
	if az.Container != s.Container {
		t.Errorf("container = %q", az.Container)
	}
}

// The package doc carries cron expressions such as "*/15", which must not
// close a comment.
func TestPackageDoc_KeepsCronExample(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "doc.go", nil, parser.ParseComments)
	if err != nil {
		t.Fatalf("parse doc.go: %v", err)
	}
	if f.Name.Name != "config" || f.Doc == nil {
		t.Fatalf("doc.go has no package doc")
	}
	if !strings.Contains(f.Doc.Text(), `schedule: "*/15 * * * *"`) {
		t.Errorf("package doc lost the schedule example:\n%s", f.Doc.Text())
	}
}
