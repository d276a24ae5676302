// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package stations

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/geo"
	"github.com/tomtom215/luftdata/internal/matcher"
)

func TestDecode(t *testing.T) {
	in := `{"locations":[
		{"name":"Femman","coordinates":[57.7087,11.9705]},
		{"name":"Haga","coordinates":[57.6996,11.9561]}
	]}`

	got, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []matcher.Station{
		{Name: "Femman", Coord: geo.Coordinate{Lat: 57.7087, Lon: 11.9705}},
		{Name: "Haga", Coord: geo.Coordinate{Lat: 57.6996, Lon: 11.9561}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"not json", `{`, "decode catalogue"},
		{"empty", `{"locations":[]}`, "at least 1 items"},
		{"missing name", `{"locations":[{"coordinates":[57.7,11.9]}]}`, "locations[0].name is required"},
		{"missing coordinates", `{"locations":[{"name":"x"}]}`, "locations[0].coordinates is required"},
		{"null coordinates", `{"locations":[{"name":"x","coordinates":null}]}`, "locations[0].coordinates is required"},
		{"one coordinate", `{"locations":[{"name":"x","coordinates":[57.7]}]}`, "locations[0].coordinates must have length 2"},
		{"three coordinates", `{"locations":[{"name":"x","coordinates":[57.7,11.9,0]}]}`, "locations[0].coordinates must have length 2"},
		{"latitude out of range", `{"locations":[{"name":"x","coordinates":[91,11.9]}]}`, "locations[0].lat"},
		{"longitude out of range", `{"locations":[{"name":"x","coordinates":[57.7,200]}]}`, "locations[0].lon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.in))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.json")
	if err := os.WriteFile(path, []byte(`{"locations":[{"name":"A","coordinates":[57.70,11.97]}]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Name != "A" {
		t.Errorf("Load = %+v", got)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	var lio *faults.LocalIOError
	if !errors.As(err, &lio) {
		t.Errorf("missing file error = %T %v, want *faults.LocalIOError", err, err)
	}
}
