// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package config

import (
	"os"
	"time"

	"github.com/tomtom215/luftdata/internal/blobstore"
	"github.com/tomtom215/luftdata/internal/breaker"
	"github.com/tomtom215/luftdata/internal/database"
	"github.com/tomtom215/luftdata/internal/events"
	"github.com/tomtom215/luftdata/internal/lock"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/upstream"
)

// Storage backends.
const (
	StorageAzure  = "azure"
	StorageMemory = "memory"
)

// Config is the complete process configuration.
type Config struct {
	Storage  StorageConfig    `koanf:"storage"`
	Lock     LockConfig       `koanf:"lock"`
	Database database.Options `koanf:"database"`

	// Source settings are validated only for enabled jobs.
	GBGS         upstream.GBGSConfig         `koanf:"gbgs" validate:"-"`
	Trafikverket upstream.TrafikverketConfig `koanf:"trafikverket" validate:"-"`

	Jobs     JobsConfig     `koanf:"jobs"`
	Stations StationsConfig `koanf:"stations"`
	History  HistoryConfig  `koanf:"history"`
	Events   events.Config  `koanf:"events"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// StorageConfig selects where remote databases and artifacts live.
type StorageConfig struct {
	// Backend is azure, or memory for local runs without an account.
	Backend string `koanf:"backend" validate:"oneof=azure memory"`

	// ConnectionString takes precedence over AccountName/AccountKey.
	ConnectionString string `koanf:"connection_string"`
	AccountName      string `koanf:"account_name"`
	AccountKey       string `koanf:"account_key"`
	Endpoint         string `koanf:"endpoint" validate:"omitempty,url"`
	Container        string `koanf:"container" validate:"required,min=3,max=63"`

	// DatabasePath is the object key of the shared DuckDB file.
	DatabasePath string `koanf:"database_path" validate:"required,remote_key"`

	// TempDir holds checked-out databases; empty means os.TempDir().
	TempDir string `koanf:"temp_dir"`

	MaxRetries  int32 `koanf:"max_retries"`
	BlockSize   int64 `koanf:"block_size" validate:"gte=0"`
	Concurrency int   `koanf:"concurrency" validate:"gte=0,lte=64"`

	BreakerThreshold uint32        `koanf:"breaker_threshold" validate:"gte=1"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

// Azure maps the section onto the blob store settings.
func (s StorageConfig) Azure() blobstore.AzureConfig {
	cb := breaker.DefaultConfig("azure-blob")
	cb.FailureThreshold = s.BreakerThreshold
	if s.BreakerTimeout > 0 {
		cb.Timeout = s.BreakerTimeout
	}
	return blobstore.AzureConfig{
		ConnectionString: s.ConnectionString,
		AccountName:      s.AccountName,
		AccountKey:       s.AccountKey,
		Endpoint:         s.Endpoint,
		Container:        s.Container,
		MaxRetries:       s.MaxRetries,
		BlockSize:        s.BlockSize,
		Concurrency:      s.Concurrency,
		Breaker:          cb,
	}
}

// LockConfig tunes checkout leases.
type LockConfig struct {
	Dir          string        `koanf:"dir" validate:"required"`
	TTL          time.Duration `koanf:"ttl"`
	Timeout      time.Duration `koanf:"timeout"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// Locker maps the section onto lock settings.
func (l LockConfig) Locker() lock.Config {
	return lock.Config{Dir: l.Dir, TTL: l.TTL, Timeout: l.Timeout, PollInterval: l.PollInterval}
}

// JobsConfig controls which jobs run and when.
type JobsConfig struct {
	// Timezone schedules are evaluated in.
	Timezone   string        `koanf:"timezone" validate:"omitempty,timezone"`
	RunTimeout time.Duration `koanf:"run_timeout"`

	GBGS         ScheduledJobConfig `koanf:"gbgs"`
	Trafikverket ScheduledJobConfig `koanf:"trafikverket"`
	Maps         MapsJobConfig      `koanf:"maps"`
}

// ScheduledJobConfig is one ingestion job.
type ScheduledJobConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule" validate:"omitempty,cron"`

	// RemoteKey overrides storage.database_path for this job.
	RemoteKey string `koanf:"remote_key" validate:"omitempty,remote_key"`
}

// MapsJobConfig is the event-triggered maps job.
type MapsJobConfig struct {
	Enabled   bool   `koanf:"enabled"`
	RemoteKey string `koanf:"remote_key" validate:"omitempty,remote_key"`
}

// StationsConfig locates the monitoring-station catalogue.
type StationsConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// HistoryConfig selects the run-history store. An empty path keeps
// history in memory.
type HistoryConfig struct {
	Path string        `koanf:"path"`
	TTL  time.Duration `koanf:"ttl"`
}

// ServerConfig is the operations HTTP server.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// TriggerRateLimit bounds manual job triggers per client per window.
	TriggerRateLimit  int           `koanf:"trigger_rate_limit" validate:"gte=1"`
	TriggerRateWindow time.Duration `koanf:"trigger_rate_window"`
}

// LoggingConfig configures the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Logger maps the section onto logging settings.
func (l LoggingConfig) Logger() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format, Caller: l.Caller, Output: os.Stderr}
}

// GBGSRemoteKey is the database the air-quality job writes to.
func (c *Config) GBGSRemoteKey() string {
	return firstNonEmpty(c.Jobs.GBGS.RemoteKey, c.Storage.DatabasePath)
}

// TrafikverketRemoteKey is the database the traffic-flow job writes to.
func (c *Config) TrafikverketRemoteKey() string {
	return firstNonEmpty(c.Jobs.Trafikverket.RemoteKey, c.Storage.DatabasePath)
}

// MapsRemoteKey is the database the maps job reads detectors from.
func (c *Config) MapsRemoteKey() string {
	return firstNonEmpty(c.Jobs.Maps.RemoteKey, c.TrafikverketRemoteKey())
}

// Schedules maps enabled ingestion jobs to their cron expressions.
func (c *Config) Schedules(gbgsJob, tvJob string) map[string]string {
	out := make(map[string]string, 2)
	if c.Jobs.GBGS.Enabled && c.Jobs.GBGS.Schedule != "" {
		out[gbgsJob] = c.Jobs.GBGS.Schedule
	}
	if c.Jobs.Trafikverket.Enabled && c.Jobs.Trafikverket.Schedule != "" {
		out[tvJob] = c.Jobs.Trafikverket.Schedule
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
