// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is shared process-wide. Field names in errors
// use the koanf or json tag, so a bad config value is reported under the
// same key the operator wrote:
//
//	storage.database_path must be a relative blob key without '..'
//
// Custom tags:
//   - remote_key: relative blob key, no leading slash, no ".."
//   - byte_size:  DuckDB memory limit such as "512MB" or "4GiB"
//   - timezone:   IANA zone name accepted by time.LoadLocation
//   - cron:       coarse 5-field cron shape (the scheduler parses it fully)
//
// Example usage:
//
//	if err := validation.ValidateStruct(&catalogue); err != nil {
//	    return fmt.Errorf("stations file %s: %w", path, err)
//	}
package validation
