// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/scout/internal/audit"
)

func TestClassifyType(t *testing.T) {
	tests := []struct {
		name  string
		want  audit.EventType
		known bool
	}{
		{"commit", audit.EventCommit, true},
		{"Post-Commit", audit.EventCommit, true},
		{" spend ", audit.EventSpend, true},
		{"cost", audit.EventSpend, true},
		{"validate", audit.EventValidation, true},
		{"generic", audit.EventGeneric, true},
		{"deploy", audit.EventGeneric, false},
		{"", audit.EventGeneric, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := ClassifyType(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestClassify_TypedPayloads(t *testing.T) {
	p, err := Classify(RawEvent{Type: "spend", Data: json.RawMessage(`{"amount":"2.50","currency":"USD"}`)})
	require.NoError(t, err)
	sp, ok := p.(audit.SpendPayload)
	require.True(t, ok)
	assert.Equal(t, "2.50", sp.Amount.String())

	p, err = Classify(RawEvent{Type: "commit"})
	require.NoError(t, err)
	assert.IsType(t, audit.CommitPayload{}, p)
}

func TestClassify_UnknownTypeBecomesGeneric(t *testing.T) {
	p, err := Classify(RawEvent{
		Type: "deploy",
		Data: json.RawMessage(`{"env":"prod","replicas":3,"tags":["a","b"],"ok":true}`),
	})
	require.NoError(t, err)

	g, ok := p.(audit.GenericPayload)
	require.True(t, ok)
	assert.Equal(t, "deploy", g.Name)
	assert.Equal(t, map[string]string{
		"env":      "prod",
		"replicas": "3",
		"tags":     `["a","b"]`,
		"ok":       "true",
	}, g.Attributes)

	p, err = Classify(RawEvent{Data: json.RawMessage(`[1,2]`)})
	require.NoError(t, err)
	g = p.(audit.GenericPayload)
	assert.Equal(t, "unknown", g.Name)
	assert.Equal(t, "[1,2]", g.Attributes["data"])
}

func TestClassify_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  RawEvent
	}{
		{"spend without data", RawEvent{Type: "spend"}},
		{"bad spend amount", RawEvent{Type: "spend", Data: json.RawMessage(`{"amount":"lots"}`)}},
		{"validation without field", RawEvent{Type: "validation", Data: json.RawMessage(`{"kind":"exact"}`)}},
		{"unknown type with bad json", RawEvent{Type: "x", Data: json.RawMessage(`{oops`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidRaw)
		})
	}
}
