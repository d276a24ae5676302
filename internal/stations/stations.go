// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package stations loads the catalogue of air-quality monitoring stations.
package stations

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/geo"
	"github.com/tomtom215/luftdata/internal/matcher"
	"github.com/tomtom215/luftdata/internal/validation"
)

// Location is one catalogue entry as stored on disk.
type Location struct {
	Name        string    `json:"name" validate:"required,max=200"`
	Coordinates []float64 `json:"coordinates" validate:"required,len=2"`
}

// entry mirrors Location with the coordinate pair split out for validation.
type entry struct {
	Name string  `json:"name" validate:"required,max=200"`
	Lat  float64 `json:"lat" validate:"latitude"`
	Lon  float64 `json:"lon" validate:"longitude"`
}

type catalogueFile struct {
	Locations []Location `json:"locations" validate:"min=1,dive"`
}

type validatedCatalogue struct {
	Locations []entry `json:"locations" validate:"min=1,dive"`
}

// Load reads and validates the catalogue at path.
func Load(path string) ([]matcher.Station, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, &faults.LocalIOError{Op: "open", Path: path, Cause: err}
	}
	defer func() { _ = f.Close() }()

	list, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("stations file %s: %w", path, err)
	}
	return list, nil
}

// Decode parses {"locations":[{"name":..., "coordinates":[lat, lon]}]}.
func Decode(r io.Reader) ([]matcher.Station, error) {
	var file catalogueFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}

	// Shape first: a missing pair must not read as (0, 0).
	if verr := validation.ValidateStruct(&file); verr != nil {
		return nil, verr
	}

	check := validatedCatalogue{Locations: make([]entry, len(file.Locations))}
	for i, loc := range file.Locations {
		check.Locations[i] = entry{Name: loc.Name, Lat: loc.Coordinates[0], Lon: loc.Coordinates[1]}
	}
	if verr := validation.ValidateStruct(&check); verr != nil {
		return nil, verr
	}

	out := make([]matcher.Station, len(file.Locations))
	for i, loc := range file.Locations {
		out[i] = matcher.Station{
			Name:  loc.Name,
			Coord: geo.Coordinate{Lat: loc.Coordinates[0], Lon: loc.Coordinates[1]},
		}
	}
	return out, nil
}
