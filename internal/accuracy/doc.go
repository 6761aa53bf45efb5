// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package accuracy scores expected versus observed values.
//
// Scores lie in [0, 1]. Exact fields score 1 or 0. Numeric and location
// fields decay with distance: score = 0.5^(distance / half), so a value one
// half-distance away scores 0.5. Location distance is the haversine
// great-circle distance in meters.
//
// Score is pure: it reads no clock and no state, so an audit replayed later
// reproduces the same numbers.
package accuracy
