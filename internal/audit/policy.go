// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"fmt"
	"strings"
	"time"
)

// SegmentState is what a RotationPolicy sees of the active segment.
type SegmentState struct {
	Generation uint64
	SizeBytes  int64
	EventCount int
	CreatedAt  time.Time
}

// RotationPolicy decides, before each write, whether the active segment
// must be closed first. The logger never consults it for an empty segment.
type RotationPolicy interface {
	ShouldRotate(s SegmentState, now time.Time) bool
	String() string
}

// SizePolicy rotates once the segment has reached MaxBytes.
type SizePolicy struct {
	MaxBytes int64
}

func (p SizePolicy) ShouldRotate(s SegmentState, _ time.Time) bool {
	return p.MaxBytes > 0 && s.SizeBytes >= p.MaxBytes
}

func (p SizePolicy) String() string { return fmt.Sprintf("size>=%d", p.MaxBytes) }

// CountPolicy rotates once the segment holds MaxEvents records.
type CountPolicy struct {
	MaxEvents int
}

func (p CountPolicy) ShouldRotate(s SegmentState, _ time.Time) bool {
	return p.MaxEvents > 0 && s.EventCount >= p.MaxEvents
}

func (p CountPolicy) String() string { return fmt.Sprintf("events>=%d", p.MaxEvents) }

// AgePolicy rotates once the segment is older than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
}

func (p AgePolicy) ShouldRotate(s SegmentState, now time.Time) bool {
	return p.MaxAge > 0 && !s.CreatedAt.IsZero() && now.Sub(s.CreatedAt) >= p.MaxAge
}

func (p AgePolicy) String() string { return fmt.Sprintf("age>=%s", p.MaxAge) }

type anyOf []RotationPolicy

// AnyOf rotates when any of the given policies fires.
func AnyOf(policies ...RotationPolicy) RotationPolicy {
	return anyOf(policies)
}

func (a anyOf) ShouldRotate(s SegmentState, now time.Time) bool {
	for _, p := range a {
		if p.ShouldRotate(s, now) {
			return true
		}
	}
	return false
}

func (a anyOf) String() string {
	if len(a) == 0 {
		return "never"
	}
	parts := make([]string, len(a))
	for i, p := range a {
		parts[i] = p.String()
	}
	return strings.Join(parts, " | ")
}

// DefaultMaxSegmentBytes is used when no policy is configured.
const DefaultMaxSegmentBytes = 4 << 20

// PolicyFor builds a policy from thresholds; zero disables a threshold.
// With every threshold zero it falls back to size rotation at
// DefaultMaxSegmentBytes.
func PolicyFor(maxBytes int64, maxEvents int, maxAge time.Duration) RotationPolicy {
	var ps []RotationPolicy
	if maxBytes > 0 {
		ps = append(ps, SizePolicy{MaxBytes: maxBytes})
	}
	if maxEvents > 0 {
		ps = append(ps, CountPolicy{MaxEvents: maxEvents})
	}
	if maxAge > 0 {
		ps = append(ps, AgePolicy{MaxAge: maxAge})
	}
	switch len(ps) {
	case 0:
		return SizePolicy{MaxBytes: DefaultMaxSegmentBytes}
	case 1:
		return ps[0]
	}
	return AnyOf(ps...)
}
