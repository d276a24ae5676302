// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/luftdata/internal/database"
	"github.com/tomtom215/luftdata/internal/events"
	"github.com/tomtom215/luftdata/internal/history"
	"github.com/tomtom215/luftdata/internal/lock"
	"github.com/tomtom215/luftdata/internal/upstream"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/luftdata/config.yaml",
	"/etc/luftdata/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Koanf paths holding comma-separated lists when set from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// envMappings maps lower-cased environment variables to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	// Names shared with the existing deployment.
	"azure_storage_connection_string":     "storage.connection_string",
	"azure_storage_account_name":          "storage.account_name",
	"azure_storage_account_key":           "storage.account_key",
	"azure_storage_account_container":     "storage.container",
	"azure_storage_account_database_path": "storage.database_path",
	"goteborgs_stad_api_url":              "gbgs.url",
	"trafikverket_api_url":                "trafikverket.url",
	"trafikverket_api_key":                "trafikverket.api_key",

	"luftdata_storage_backend":  "storage.backend",
	"luftdata_storage_endpoint": "storage.endpoint",
	"luftdata_storage_temp_dir": "storage.temp_dir",

	"luftdata_lock_dir":     "lock.dir",
	"luftdata_lock_ttl":     "lock.ttl",
	"luftdata_lock_timeout": "lock.timeout",

	"luftdata_duckdb_threads":    "database.threads",
	"luftdata_duckdb_max_memory": "database.max_memory",

	"trafikverket_county_no": "trafikverket.county_no",

	"luftdata_timezone":            "jobs.timezone",
	"luftdata_run_timeout":         "jobs.run_timeout",
	"luftdata_gbgs_enabled":        "jobs.gbgs.enabled",
	"luftdata_gbgs_schedule":       "jobs.gbgs.schedule",
	"luftdata_gbgs_remote_key":     "jobs.gbgs.remote_key",
	"luftdata_tv_enabled":          "jobs.trafikverket.enabled",
	"luftdata_tv_schedule":         "jobs.trafikverket.schedule",
	"luftdata_tv_remote_key":       "jobs.trafikverket.remote_key",
	"luftdata_maps_enabled":        "jobs.maps.enabled",
	"luftdata_maps_remote_key":     "jobs.maps.remote_key",
	"luftdata_stations_path":       "stations.path",
	"luftdata_history_path":        "history.path",
	"luftdata_history_ttl":         "history.ttl",
	"luftdata_events_backend":      "events.backend",
	"luftdata_nats_url":            "events.nats_url",
	"luftdata_server_enabled":      "server.enabled",
	"luftdata_server_host":         "server.host",
	"luftdata_server_port":         "server.port",
	"luftdata_cors_origins":        "server.cors_origins",
	"luftdata_trigger_rate_limit":  "server.trigger_rate_limit",
	"luftdata_trigger_rate_window": "server.trigger_rate_window",
	"log_level":                    "logging.level",
	"log_format":                   "logging.format",
	"log_caller":                   "logging.caller",
}

// defaultConfig is the first koanf layer.
func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:          StorageAzure,
			Container:        "dagster-storage",
			DatabasePath:     "air_quality.duckdb",
			BreakerThreshold: 5,
			BreakerTimeout:   2 * time.Minute,
		},
		Lock: LockConfig{
			Dir:          filepath.Join(os.TempDir(), "luftdata-locks"),
			TTL:          lock.DefaultTTL,
			Timeout:      lock.DefaultTimeout,
			PollInterval: time.Second,
		},
		Database: database.Options{
			MaxMemory: database.DefaultMaxMemory,
		},
		GBGS: upstream.GBGSConfig{
			MaxPages: upstream.DefaultMaxPages,
			Transport: upstream.TransportConfig{
				Timeout:           60 * time.Second,
				RequestsPerSecond: 5,
				Burst:             1,
			},
		},
		Trafikverket: upstream.TrafikverketConfig{
			URL:      "https://api.trafikinfo.trafikverket.se/v2/data.json",
			CountyNo: upstream.DefaultCountyNo,
			Transport: upstream.TransportConfig{
				Timeout: 120 * time.Second,
			},
		},
		Jobs: JobsConfig{
			Timezone:   "UTC",
			RunTimeout: 30 * time.Minute,
			GBGS:       ScheduledJobConfig{Enabled: true, Schedule: "0 * * * *"},
			Trafikverket: ScheduledJobConfig{
				Enabled:  true,
				Schedule: "*/15 * * * *",
			},
			Maps: MapsJobConfig{Enabled: true},
		},
		Stations: StationsConfig{
			Path: "data/monitoring_stations.json",
		},
		History: HistoryConfig{
			Path: "",
			TTL:  history.DefaultTTL,
		},
		Events: events.DefaultConfig(),
		Server: ServerConfig{
			Enabled:           true,
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			TriggerRateLimit:  6,
			TriggerRateWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, an optional YAML file and the environment, then
// validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: struct defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// processSliceFields splits comma-separated env values into lists.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
