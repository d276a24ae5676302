// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package geo provides coordinates, geodesic distance and WKT point parsing.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Coordinate is a WGS-84 position in decimal degrees.
// It encodes to JSON as [lat, lon].
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate is within latitude/longitude bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%g, %g)", c.Lat, c.Lon)
}

// MarshalJSON encodes the coordinate as [lat, lon].
func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lat, c.Lon})
}

// UnmarshalJSON decodes [lat, lon].
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("coordinate must be [lat, lon]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinate must have 2 elements, got %d", len(pair))
	}
	c.Lat, c.Lon = pair[0], pair[1]
	return nil
}

// WGS-84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
	wgs84B = wgs84A * (1 - wgs84F)

	// MeanEarthRadiusKm is the IUGG mean radius used by the haversine fallback.
	MeanEarthRadiusKm = 6371.0088

	vincentyMaxIterations = 200
	vincentyTolerance     = 1e-12
)

// GeodesicKm returns the ellipsoidal distance between a and b in kilometres
// using the Vincenty inverse formula. Nearly antipodal points where the
// iteration does not converge fall back to HaversineKm.
func GeodesicKm(a, b Coordinate) float64 {
	if d, ok := vincentyKm(a, b); ok {
		return d
	}
	return HaversineKm(a, b)
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Coordinate) float64 {
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLat := lat2 - lat1
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return MeanEarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func vincentyKm(a, b Coordinate) (float64, bool) {
	L := toRad(b.Lon - a.Lon)
	U1 := math.Atan((1 - wgs84F) * math.Tan(toRad(a.Lat)))
	U2 := math.Atan((1 - wgs84F) * math.Tan(toRad(b.Lat)))
	sinU1, cosU1 := math.Sincos(U1)
	sinU2, cosU2 := math.Sincos(U2)

	lambda := L
	for i := 0; i < vincentyMaxIterations; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		t1 := cosU2 * sinLambda
		t2 := cosU1*sinU2 - sinU1*cosU2*cosLambda
		sinSigma := math.Sqrt(t1*t1 + t2*t2)
		if sinSigma == 0 {
			return 0, true // coincident points
		}
		cosSigma := sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma := math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cos2Alpha := 1 - sinAlpha*sinAlpha

		cos2SigmaM := 0.0 // equatorial line
		if cos2Alpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cos2Alpha
		}

		C := wgs84F / 16 * cos2Alpha * (4 + wgs84F*(4-3*cos2Alpha))
		prev := lambda
		lambda = L + (1-C)*wgs84F*sinAlpha*
			(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))

		if math.Abs(lambda) > math.Pi {
			return 0, false
		}
		if math.Abs(lambda-prev) < vincentyTolerance {
			uSq := cos2Alpha * (wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B)
			A := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
			B := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
			deltaSigma := B * sinSigma * (cos2SigmaM + B/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
				B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
			return wgs84B * A * (sigma - deltaSigma) / 1000, true
		}
	}
	return 0, false
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// ErrInvalidWKT is returned for strings that are not a 2D or 3D WKT point.
var ErrInvalidWKT = errors.New("invalid WKT point")

// ParseWKTPoint parses "POINT (lon lat)". A Z ordinate, if present, is ignored.
func ParseWKTPoint(s string) (Coordinate, error) {
	body := strings.TrimSpace(s)
	upper := strings.ToUpper(body)
	if !strings.HasPrefix(upper, "POINT") {
		return Coordinate{}, fmt.Errorf("%w: %q", ErrInvalidWKT, s)
	}
	body = strings.TrimSpace(body[len("POINT"):])
	if len(body) > 0 && (body[0] == 'Z' || body[0] == 'z') {
		body = strings.TrimSpace(body[1:])
	}
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return Coordinate{}, fmt.Errorf("%w: %q", ErrInvalidWKT, s)
	}

	fields := strings.Fields(body[1 : len(body)-1])
	if len(fields) < 2 || len(fields) > 3 {
		return Coordinate{}, fmt.Errorf("%w: %q", ErrInvalidWKT, s)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: longitude %q", ErrInvalidWKT, fields[0])
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: latitude %q", ErrInvalidWKT, fields[1])
	}

	c := Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return Coordinate{}, fmt.Errorf("%w: out of range %s", ErrInvalidWKT, c)
	}
	return c, nil
}

// WKT formats c as "POINT (lon lat)".
func (c Coordinate) WKT() string {
	return "POINT (" + strconv.FormatFloat(c.Lon, 'f', -1, 64) + " " + strconv.FormatFloat(c.Lat, 'f', -1, 64) + ")"
}
