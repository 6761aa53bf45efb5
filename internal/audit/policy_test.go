// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRotationPolicies(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	state := SegmentState{SizeBytes: 1000, EventCount: 5, CreatedAt: now.Add(-2 * time.Hour)}

	tests := []struct {
		name   string
		policy RotationPolicy
		want   bool
	}{
		{"size below", SizePolicy{MaxBytes: 2000}, false},
		{"size reached", SizePolicy{MaxBytes: 1000}, true},
		{"size disabled", SizePolicy{}, false},
		{"count below", CountPolicy{MaxEvents: 6}, false},
		{"count reached", CountPolicy{MaxEvents: 5}, true},
		{"age below", AgePolicy{MaxAge: 3 * time.Hour}, false},
		{"age reached", AgePolicy{MaxAge: time.Hour}, true},
		{"any none", AnyOf(SizePolicy{MaxBytes: 5000}, CountPolicy{MaxEvents: 50}), false},
		{"any one", AnyOf(SizePolicy{MaxBytes: 5000}, AgePolicy{MaxAge: time.Hour}), true},
		{"any empty", AnyOf(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.ShouldRotate(state, now))
		})
	}
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, SizePolicy{MaxBytes: DefaultMaxSegmentBytes}, PolicyFor(0, 0, 0))
	assert.Equal(t, CountPolicy{MaxEvents: 2}, PolicyFor(0, 2, 0))
	assert.Equal(t, "size>=10 | age>=1m0s", PolicyFor(10, 0, time.Minute).String())
}
