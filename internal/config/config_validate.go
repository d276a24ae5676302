// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package config

import (
	"fmt"

	"github.com/tomtom215/luftdata/internal/events"
	"github.com/tomtom215/luftdata/internal/scheduler"
	"github.com/tomtom215/luftdata/internal/validation"
)

// Validate checks struct tags and then the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if ve := validation.ValidateStruct(c); ve != nil {
		return ve
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	return c.validateEvents()
}

func (c *Config) validateStorage() error {
	if c.Storage.Backend != StorageAzure {
		return nil
	}
	if c.Storage.ConnectionString != "" {
		return nil
	}
	if c.Storage.AccountName == "" || c.Storage.AccountKey == "" {
		return fmt.Errorf("storage: azure backend needs connection_string or account_name and account_key")
	}
	return nil
}

// validateSources checks source settings only for jobs that use them.
func (c *Config) validateSources() error {
	if c.Jobs.GBGS.Enabled {
		if ve := validation.ValidateStruct(c.GBGS); ve != nil {
			return fmt.Errorf("gbgs: %w", ve)
		}
	}
	if c.Jobs.Trafikverket.Enabled {
		if ve := validation.ValidateStruct(c.Trafikverket); ve != nil {
			return fmt.Errorf("trafikverket: %w", ve)
		}
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.GBGS.Enabled {
		if _, err := scheduler.ParseCron(c.Jobs.GBGS.Schedule); c.Jobs.GBGS.Schedule != "" && err != nil {
			return fmt.Errorf("jobs.gbgs.schedule: %w", err)
		}
	}
	if c.Jobs.Trafikverket.Enabled {
		if _, err := scheduler.ParseCron(c.Jobs.Trafikverket.Schedule); c.Jobs.Trafikverket.Schedule != "" && err != nil {
			return fmt.Errorf("jobs.trafikverket.schedule: %w", err)
		}
	}
	if c.Jobs.RunTimeout < 0 {
		return fmt.Errorf("jobs.run_timeout must not be negative")
	}
	if c.Jobs.RunTimeout > 0 && c.Lock.Timeout >= c.Jobs.RunTimeout {
		return fmt.Errorf("lock.timeout (%s) must be shorter than jobs.run_timeout (%s)", c.Lock.Timeout, c.Jobs.RunTimeout)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.Backend == events.BackendNATS && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required for the nats backend")
	}
	return nil
}
