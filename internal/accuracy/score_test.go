// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package accuracy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/scout/internal/audit"
)

func TestScore_IdenticalInputsAreMaximal(t *testing.T) {
	tests := []struct {
		kind Kind
		v    audit.Value
	}{
		{KindExact, audit.TextValue("Seattle")},
		{KindExact, audit.NumberValue(3)},
		{KindNumeric, audit.NumberValue(-12.5)},
		{KindLocation, audit.LocationValue(47.6062, -122.3321)},
		{KindLocation, audit.LocationValue(-90, 180)},
	}
	for _, tt := range tests {
		got, err := Score(tt.kind, tt.v, tt.v)
		require.NoError(t, err)
		assert.Equal(t, 1.0, got, "%s %+v", tt.kind, tt.v)
	}
}

func TestScore_ExactIsBinary(t *testing.T) {
	got, err := Score(KindExact, audit.TextValue("a"), audit.TextValue("b"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	got, _ = Score(KindExact, audit.TextValue("3"), audit.NumberValue(3))
	assert.Equal(t, 0.0, got)
}

func TestScore_LocationMonotonic(t *testing.T) {
	origin := audit.LocationValue(40.0, -74.0)
	prev := 1.0
	for _, dLat := range []float64{0, 0.0001, 0.0005, 0.001, 0.01, 0.1, 1, 10} {
		got, err := Score(KindLocation, origin, audit.LocationValue(40.0+dLat, -74.0))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, prev, "dLat=%g", dLat)
		prev = got
	}
	assert.Less(t, prev, 1e-6)
}

func TestScore_NumericMonotonicAndHalfDistance(t *testing.T) {
	s := NewScorer(Config{NumericHalfDistance: 2})
	got, err := s.Score(KindNumeric, audit.NumberValue(10), audit.NumberValue(12))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-12)

	prev := 1.0
	for _, d := range []float64{0, 0.5, 1, 2, 4, 100} {
		got, err := s.Score(KindNumeric, audit.NumberValue(10), audit.NumberValue(10-d))
		require.NoError(t, err)
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
}

func TestScore_LocationHalfDistance(t *testing.T) {
	a := audit.LocationValue(0, 0)
	b := audit.LocationValue(0, 1)
	d := Haversine(*a.Location, *b.Location)

	s := NewScorer(Config{LocationHalfMeters: d})
	got, err := s.Score(KindLocation, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestScore_ZeroHalfDistanceIsBinary(t *testing.T) {
	s := NewScorer(Config{})
	got, _ := s.Score(KindNumeric, audit.NumberValue(1), audit.NumberValue(1.0001))
	assert.Equal(t, 0.0, got)
	got, _ = s.Score(KindNumeric, audit.NumberValue(1), audit.NumberValue(1))
	assert.Equal(t, 1.0, got)
}

func TestScore_Errors(t *testing.T) {
	_, err := Score(KindNumeric, audit.TextValue("1"), audit.NumberValue(1))
	assert.ErrorIs(t, err, ErrValueMismatch)

	_, err = Score(KindLocation, audit.LocationValue(91, 0), audit.LocationValue(0, 0))
	assert.ErrorIs(t, err, ErrValueMismatch)

	_, err = Score(Kind("fuzzy"), audit.TextValue("a"), audit.TextValue("a"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestHaversine_KnownDistance(t *testing.T) {
	paris := audit.GeoPoint{Lat: 48.8566, Lon: 2.3522}
	london := audit.GeoPoint{Lat: 51.5074, Lon: -0.1278}
	assert.InDelta(t, 343_500, Haversine(paris, london), 1_500)
	assert.Equal(t, Haversine(paris, london), Haversine(london, paris))
}
