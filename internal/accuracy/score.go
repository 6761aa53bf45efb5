// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package accuracy

import (
	"errors"
	"fmt"
	"math"

	"github.com/jeranaias/scout/internal/audit"
)

// Kind selects the comparison used for a field.
type Kind string

const (
	KindExact    Kind = "exact"
	KindNumeric  Kind = "numeric"
	KindLocation Kind = "location"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindExact, KindNumeric, KindLocation:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

var (
	ErrUnknownKind   = errors.New("unknown validation kind")
	ErrValueMismatch = errors.New("value does not fit validation kind")
)

// earthRadiusMeters is the IUGG mean Earth radius.
const earthRadiusMeters = 6371008.8

// Config holds the decay half-distances.
type Config struct {
	// LocationHalfMeters is the distance at which a location scores 0.5.
	LocationHalfMeters float64 `toml:"location_half_meters" yaml:"location_half_meters" json:"location_half_meters" env:"LOCATION_HALF_METERS"`

	// NumericHalfDistance is the absolute difference at which a number
	// scores 0.5.
	NumericHalfDistance float64 `toml:"numeric_half_distance" yaml:"numeric_half_distance" json:"numeric_half_distance" env:"NUMERIC_HALF_DISTANCE"`
}

// DefaultConfig returns the default half-distances.
func DefaultConfig() Config {
	return Config{
		LocationHalfMeters:  100,
		NumericHalfDistance: 1,
	}
}

// Scorer computes scores with a fixed configuration.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer. Non-positive half-distances make the
// corresponding kind binary.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score compares expected and actual using the default configuration.
func Score(kind Kind, expected, actual audit.Value) (float64, error) {
	return NewScorer(DefaultConfig()).Score(kind, expected, actual)
}

// Score returns the accuracy of actual against expected in [0, 1].
func (s *Scorer) Score(kind Kind, expected, actual audit.Value) (float64, error) {
	score, _, err := s.score(kind, expected, actual)
	return score, err
}

// score also returns the distance that produced the score (0 or 1 for
// exact comparisons).
func (s *Scorer) score(kind Kind, expected, actual audit.Value) (float64, float64, error) {
	switch kind {
	case KindExact:
		if equalValues(expected, actual) {
			return 1, 0, nil
		}
		return 0, 1, nil

	case KindNumeric:
		if expected.Number == nil || actual.Number == nil {
			return 0, 0, fmt.Errorf("%w: numeric needs two numbers", ErrValueMismatch)
		}
		e, a := *expected.Number, *actual.Number
		if math.IsNaN(e) || math.IsNaN(a) || math.IsInf(e, 0) || math.IsInf(a, 0) {
			return 0, 0, fmt.Errorf("%w: non-finite number", ErrValueMismatch)
		}
		d := math.Abs(e - a)
		return decay(d, s.cfg.NumericHalfDistance), d, nil

	case KindLocation:
		if expected.Location == nil || actual.Location == nil {
			return 0, 0, fmt.Errorf("%w: location needs two points", ErrValueMismatch)
		}
		if err := validPoint(*expected.Location); err != nil {
			return 0, 0, err
		}
		if err := validPoint(*actual.Location); err != nil {
			return 0, 0, err
		}
		d := Haversine(*expected.Location, *actual.Location)
		return decay(d, s.cfg.LocationHalfMeters), d, nil
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// decay maps a distance to 0.5^(d/half), clamped into [0, 1].
func decay(d, half float64) float64 {
	if d <= 0 {
		return 1
	}
	if half <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, math.Exp2(-d/half)))
}

func equalValues(a, b audit.Value) bool {
	if a.Text != b.Text {
		return false
	}
	if (a.Number == nil) != (b.Number == nil) {
		return false
	}
	if a.Number != nil && *a.Number != *b.Number {
		return false
	}
	if (a.Location == nil) != (b.Location == nil) {
		return false
	}
	return a.Location == nil || *a.Location == *b.Location
}

func validPoint(p audit.GeoPoint) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: invalid coordinate (%g, %g)", ErrValueMismatch, p.Lat, p.Lon)
	}
	return nil
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b audit.GeoPoint) float64 {
	const rad = math.Pi / 180
	lat1, lat2 := a.Lat*rad, b.Lat*rad
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
