// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

type location struct {
	Name string  `json:"name" validate:"required"`
	Lat  float64 `json:"lat" validate:"latitude"`
	Lon  float64 `json:"lon" validate:"longitude"`
}

type catalogue struct {
	Locations []location `json:"locations" validate:"min=1,dive"`
}

type storageSection struct {
	Container    string `koanf:"container" validate:"required,min=3,max=63"`
	DatabasePath string `koanf:"database_path" validate:"required,remote_key"`
	MaxMemory    string `koanf:"max_memory" validate:"omitempty,byte_size"`
	Backend      string `koanf:"backend" validate:"oneof=azure memory"`
}

type rootConfig struct {
	Storage storageSection `koanf:"storage"`
	Cron    string         `koanf:"cron" validate:"cron"`
	TZ      string         `koanf:"timezone" validate:"timezone"`
}

func validRoot() rootConfig {
	return rootConfig{
		Storage: storageSection{
			Container:    "dagster-storage",
			DatabasePath: "air_quality.duckdb",
			MaxMemory:    "1GB",
			Backend:      "azure",
		},
		Cron: "*/15 * * * *",
		TZ:   "Europe/Stockholm",
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	if err := ValidateStruct(validRoot()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	c := catalogue{Locations: []location{{Name: "Femman", Lat: 57.7087, Lon: 11.9705}}}
	if err := ValidateStruct(&c); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateStruct_FieldNames(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*rootConfig)
		wantField string
		wantTag   string
	}{
		{"missing container", func(c *rootConfig) { c.Storage.Container = "" }, "storage.container", "required"},
		{"short container", func(c *rootConfig) { c.Storage.Container = "ab" }, "storage.container", "min"},
		{"parent traversal", func(c *rootConfig) { c.Storage.DatabasePath = "../etc/passwd" }, "storage.database_path", "remote_key"},
		{"absolute key", func(c *rootConfig) { c.Storage.DatabasePath = "/air_quality.duckdb" }, "storage.database_path", "remote_key"},
		{"bad memory", func(c *rootConfig) { c.Storage.MaxMemory = "lots" }, "storage.max_memory", "byte_size"},
		{"bad backend", func(c *rootConfig) { c.Storage.Backend = "s3" }, "storage.backend", "oneof"},
		{"short cron", func(c *rootConfig) { c.Cron = "* * *" }, "cron", "cron"},
		{"garbage cron", func(c *rootConfig) { c.Cron = "a b c d e" }, "cron", "cron"},
		{"bad timezone", func(c *rootConfig) { c.TZ = "Mars/Olympus" }, "timezone", "timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRoot()
			tt.mutate(&cfg)

			err := ValidateStruct(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if len(err.Errors()) != 1 {
				t.Fatalf("errors = %v, want exactly one", err.Errors())
			}
			fe := err.Errors()[0]
			if fe.Field() != tt.wantField {
				t.Errorf("Field() = %q, want %q", fe.Field(), tt.wantField)
			}
			if fe.Tag() != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", fe.Tag(), tt.wantTag)
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("message %q should mention %q", err.Error(), tt.wantField)
			}
		})
	}
}

func TestValidateStruct_Dive(t *testing.T) {
	c := catalogue{Locations: []location{
		{Name: "ok", Lat: 57.7, Lon: 11.9},
		{Name: "", Lat: 95, Lon: 11.9},
	}}

	err := ValidateStruct(&c)
	if err == nil {
		t.Fatal("expected validation error")
	}
	got := map[string]string{}
	for _, fe := range err.Errors() {
		got[fe.Field()] = fe.Tag()
	}
	if got["locations[1].name"] != "required" {
		t.Errorf("missing name error, got %v", got)
	}
	if got["locations[1].lat"] != "latitude" {
		t.Errorf("missing latitude error, got %v", got)
	}

	empty := catalogue{}
	err = ValidateStruct(&empty)
	if err == nil || !strings.Contains(err.Error(), "at least 1 items") {
		t.Errorf("empty catalogue error = %v", err)
	}
}

func TestValidateVar(t *testing.T) {
	if err := ValidateVar("limit", 50, "min=1,max=500"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := ValidateVar("limit", 0, "min=1,max=500")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Errors()[0].Field() != "limit" {
		t.Errorf("Field() = %q, want limit", err.Errors()[0].Field())
	}
	if err.Error() != "limit must be at least 1" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestToAPIError(t *testing.T) {
	cfg := validRoot()
	cfg.Storage.Container = ""
	single := ValidateStruct(cfg).ToAPIError()
	if single.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q", single.Code)
	}
	if single.Details["field"] != "storage.container" {
		t.Errorf("Details = %v", single.Details)
	}

	cfg.Cron = "nope"
	multi := ValidateStruct(cfg).ToAPIError()
	fields, ok := multi.Details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 2 {
		t.Errorf("Details.fields = %v, want 2 entries", multi.Details["fields"])
	}

	empty := (&RequestValidationError{}).ToAPIError()
	if empty.Message != "Validation failed" {
		t.Errorf("empty Message = %q", empty.Message)
	}
}
