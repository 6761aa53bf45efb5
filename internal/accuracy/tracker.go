// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package accuracy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/scout/internal/audit"
)

// Metric is the score of one validation event.
type Metric struct {
	SessionID string      `json:"session_id"`
	Sequence  uint64      `json:"sequence_no"`
	Timestamp time.Time   `json:"timestamp"`
	Field     string      `json:"field"`
	Kind      Kind        `json:"kind"`
	Expected  audit.Value `json:"expected"`
	Actual    audit.Value `json:"actual"`
	Distance  float64     `json:"distance"`
	Score     float64     `json:"score"`
}

// FieldSummary aggregates the metrics of one field.
type FieldSummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
}

// Report is the accuracy derived from a log replay.
type Report struct {
	Metrics  []Metric                `json:"metrics"`
	Count    int                     `json:"count"`
	Mean     float64                 `json:"mean"`
	Fields   map[string]FieldSummary `json:"fields"`
	Skipped  []string                `json:"skipped,omitempty"`
	Warnings []audit.Warning         `json:"warnings,omitempty"`
}

// Partial reports whether any record could not be used.
func (r Report) Partial() bool {
	return len(r.Skipped) > 0 || len(r.Warnings) > 0
}

// Tracker derives accuracy metrics from validation events. It keeps only
// the most recently observed metric; reports always come from replay.
type Tracker struct {
	scorer *Scorer

	mu   sync.Mutex
	last *Metric
}

// NewTracker creates a tracker using cfg.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{scorer: NewScorer(cfg)}
}

// MetricFor scores a validation event.
func (t *Tracker) MetricFor(e audit.Event) (Metric, error) {
	p, ok := e.Payload.(audit.ValidationPayload)
	if !ok {
		return Metric{}, fmt.Errorf("event %s #%d is not a validation event", e.SessionID, e.Sequence)
	}
	kind, err := ParseKind(p.Kind)
	if err != nil {
		return Metric{}, err
	}
	score, dist, err := t.scorer.score(kind, p.Expected, p.Actual)
	if err != nil {
		return Metric{}, err
	}
	return Metric{
		SessionID: e.SessionID,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp,
		Field:     p.Field,
		Kind:      kind,
		Expected:  p.Expected,
		Actual:    p.Actual,
		Distance:  dist,
		Score:     score,
	}, nil
}

// Observe handles a freshly stored validation event.
func (t *Tracker) Observe(e audit.Event) (Metric, error) {
	m, err := t.MetricFor(e)
	if err != nil {
		return Metric{}, err
	}
	t.mu.Lock()
	t.last = &m
	t.mu.Unlock()
	return m, nil
}

// Last returns the most recently observed metric.
func (t *Tracker) Last() (Metric, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Metric{}, false
	}
	return *t.last, true
}

// Evaluate scores every validation event in r. Events that cannot be
// scored are listed in Skipped rather than failing the report.
func (t *Tracker) Evaluate(r *audit.Replay) Report {
	rep := Report{Fields: make(map[string]FieldSummary), Warnings: r.Warnings}
	for _, e := range r.OfType(audit.EventValidation) {
		m, err := t.MetricFor(e)
		if err != nil {
			rep.Skipped = append(rep.Skipped, fmt.Sprintf("%s #%d: %v", e.SessionID, e.Sequence, err))
			continue
		}
		rep.Metrics = append(rep.Metrics, m)
	}
	rep.Count, rep.Mean, rep.Fields = Summarize(rep.Metrics)
	return rep
}

// Summarize returns the count, mean score and per-field summaries.
func Summarize(metrics []Metric) (int, float64, map[string]FieldSummary) {
	fields := make(map[string]FieldSummary)
	if len(metrics) == 0 {
		return 0, 0, fields
	}
	sums := make(map[string]float64)
	var total float64
	for _, m := range metrics {
		total += m.Score
		fs, seen := fields[m.Field]
		if !seen || m.Score < fs.Min {
			fs.Min = m.Score
		}
		fs.Count++
		fields[m.Field] = fs
		sums[m.Field] += m.Score
	}
	for name, fs := range fields {
		fs.Mean = sums[name] / float64(fs.Count)
		fields[name] = fs
	}
	return len(metrics), total / float64(len(metrics)), fields
}

// FieldNames returns the summarized field names in sorted order.
func (r Report) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
