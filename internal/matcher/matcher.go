// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package matcher pairs each air-quality monitoring station with the
// geographically closest traffic-flow detector.
package matcher

import (
	"errors"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/geo"
)

// ErrNoDetectors is returned when there is nothing to match against.
var ErrNoDetectors = errors.New("no detectors to match against")

// Station is a monitoring station.
type Station struct {
	Name  string
	Coord geo.Coordinate
}

// Detector is a traffic-flow measurement site.
type Detector struct {
	ID    int64
	Coord geo.Coordinate
}

// StationDetectorMatch is one station with its nearest detector.
type StationDetectorMatch struct {
	StationIndex  int            `json:"monitoring_station_index"`
	StationName   string         `json:"monitoring_station_name"`
	StationCoord  geo.Coordinate `json:"monitoring_coord"`
	DetectorID    int64          `json:"closest_detector_id"`
	DetectorCoord geo.Coordinate `json:"closest_detector_coord"`
	DistanceKm    float64        `json:"distance_km"`
}

// DistanceFunc returns the distance in kilometres between two coordinates.
type DistanceFunc func(a, b geo.Coordinate) float64

// Match returns one record per station, in station order. The first
// detector at the minimum distance wins ties. A nil dist uses geo.GeodesicKm.
func Match(stations []Station, detectors []Detector, dist DistanceFunc) ([]StationDetectorMatch, error) {
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}
	if dist == nil {
		dist = geo.GeodesicKm
	}

	matches := make([]StationDetectorMatch, 0, len(stations))
	for i, s := range stations {
		best := -1
		bestKm := math.Inf(1)
		for j, d := range detectors {
			km := dist(s.Coord, d.Coord)
			if km < bestKm {
				best, bestKm = j, km
			}
		}
		if best < 0 {
			// Every distance was NaN or +Inf; fall back to the first detector.
			best, bestKm = 0, dist(s.Coord, detectors[0].Coord)
		}

		name := s.Name
		if name == "" {
			name = "Station_" + strconv.Itoa(i)
		}
		matches = append(matches, StationDetectorMatch{
			StationIndex:  i,
			StationName:   name,
			StationCoord:  s.Coord,
			DetectorID:    detectors[best].ID,
			DetectorCoord: detectors[best].Coord,
			DistanceKm:    bestKm,
		})
	}
	return matches, nil
}

// Encode renders matches as an indented JSON array.
func Encode(matches []StationDetectorMatch) ([]byte, error) {
	if matches == nil {
		matches = []StationDetectorMatch{}
	}
	return json.MarshalIndent(matches, "", "  ")
}
