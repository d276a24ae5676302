// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package maps renders Leaflet HTML maps of stations, detectors and matches.
package maps

import (
	"bytes"
	_ "embed"
	"fmt"
	"html"
	"html/template"
	"io"
	"strconv"

	"github.com/tomtom215/luftdata/internal/geo"
	"github.com/tomtom215/luftdata/internal/matcher"
)

// Object keys the rendered artifacts are uploaded to.
const (
	StationsKey  = "maps/monitoring_stations.html"
	DetectorsKey = "maps/detectors.html"
	MergedKey    = "maps/merged_map.html"
	MatchesKey   = "json_files/station_detector_matches.json"
)

// Content types for the artifacts.
const (
	HTMLContentType = "text/html; charset=utf-8"
	JSONContentType = "application/json"
)

const (
	stationColor    = "red"
	detectorColor   = "blue"
	connectionColor = "green"

	leafletCSS = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css"
	leafletJS  = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"
)

// Göteborg city centre.
var (
	DefaultCenter = geo.Coordinate{Lat: 57.7089, Lon: 11.9746}
	DefaultZoom   = 13
)

//go:embed templates/map.html.tmpl
var mapTemplateText string

var mapTemplate = template.Must(template.New("map").Parse(mapTemplateText))

// Marker is a point on the map. Popup is HTML.
type Marker struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Color string  `json:"color"`
	Popup string  `json:"popup"`
}

// Line is a polyline. Popup is HTML.
type Line struct {
	Points  [][2]float64 `json:"points"`
	Color   string       `json:"color"`
	Weight  int          `json:"weight"`
	Opacity float64      `json:"opacity"`
	Popup   string       `json:"popup"`
}

// Map is everything a rendered page shows.
type Map struct {
	Title   string
	Center  geo.Coordinate
	Zoom    int
	Markers []Marker
	Lines   []Line
}

type mapSpec struct {
	Center  [2]float64 `json:"center"`
	Zoom    int        `json:"zoom"`
	Markers []Marker   `json:"markers"`
	Lines   []Line     `json:"lines"`
}

// New returns an empty map centred on Göteborg.
func New(title string) *Map {
	return &Map{Title: title, Center: DefaultCenter, Zoom: DefaultZoom}
}

// Render writes m as a standalone HTML page.
func (m *Map) Render(w io.Writer) error {
	spec := mapSpec{
		Center:  [2]float64{m.Center.Lat, m.Center.Lon},
		Zoom:    m.Zoom,
		Markers: m.Markers,
		Lines:   m.Lines,
	}
	if spec.Markers == nil {
		spec.Markers = []Marker{}
	}
	if spec.Lines == nil {
		spec.Lines = []Line{}
	}

	err := mapTemplate.Execute(w, struct {
		Title      string
		LeafletCSS string
		LeafletJS  string
		Spec       mapSpec
	}{m.Title, leafletCSS, leafletJS, spec})
	if err != nil {
		return fmt.Errorf("render map %q: %w", m.Title, err)
	}
	return nil
}

// Bytes renders m into memory.
func (m *Map) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Map) addStations(stations []matcher.Station, popup func(matcher.Station) string) {
	for _, s := range stations {
		m.Markers = append(m.Markers, Marker{Lat: s.Coord.Lat, Lon: s.Coord.Lon, Color: stationColor, Popup: popup(s)})
	}
}

func (m *Map) addDetectors(detectors []matcher.Detector, popup func(matcher.Detector) string) {
	for _, d := range detectors {
		m.Markers = append(m.Markers, Marker{Lat: d.Coord.Lat, Lon: d.Coord.Lon, Color: detectorColor, Popup: popup(d)})
	}
}

// Stations renders red markers for each monitoring station.
func Stations(stations []matcher.Station) *Map {
	m := New("Monitoring stations")
	m.addStations(stations, func(s matcher.Station) string {
		return fmt.Sprintf("Lat: %s, Lon: %s, Station name: %s",
			formatFloat(s.Coord.Lat), formatFloat(s.Coord.Lon), html.EscapeString(s.Name))
	})
	return m
}

// Detectors renders blue markers for each traffic detector.
func Detectors(detectors []matcher.Detector) *Map {
	m := New("Traffic detectors")
	m.addDetectors(detectors, func(d matcher.Detector) string {
		return fmt.Sprintf("Lat: %s, Lon: %s, Siteid:%d", formatFloat(d.Coord.Lat), formatFloat(d.Coord.Lon), d.ID)
	})
	return m
}

// Merged renders stations, detectors and a green line per match.
func Merged(stations []matcher.Station, detectors []matcher.Detector, matches []matcher.StationDetectorMatch) *Map {
	m := New("Monitoring stations and closest detectors")
	m.addStations(stations, func(s matcher.Station) string {
		return fmt.Sprintf("Monitoring Station: %s<br>Lat: %s<br>Lon: %s",
			html.EscapeString(s.Name), formatFloat(s.Coord.Lat), formatFloat(s.Coord.Lon))
	})
	m.addDetectors(detectors, func(d matcher.Detector) string {
		return fmt.Sprintf("Detector Site ID: %d<br>Lat: %s<br>Lon: %s", d.ID, formatFloat(d.Coord.Lat), formatFloat(d.Coord.Lon))
	})
	for _, match := range matches {
		m.Lines = append(m.Lines, Line{
			Points: [][2]float64{
				{match.StationCoord.Lat, match.StationCoord.Lon},
				{match.DetectorCoord.Lat, match.DetectorCoord.Lon},
			},
			Color:   connectionColor,
			Weight:  4,
			Opacity: 0.8,
			Popup: fmt.Sprintf("Connection: %s → %d<br>Distance: %.2f km",
				html.EscapeString(match.StationName), match.DetectorID, match.DistanceKm),
		})
	}
	return m
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
