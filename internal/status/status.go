// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package status assembles the read-only view consumed by display
// collaborators: the CLI, the HTTP API and any terminal UI.
package status

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/scout/internal/accuracy"
	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/session"
	"github.com/jeranaias/scout/internal/spend"
)

// SessionSource reports the current session. *session.Manager implements it.
type SessionSource interface {
	GetStatus() session.Status
}

// DerivedObserver receives headline numbers after each collection.
// *metrics.Collector implements it.
type DerivedObserver interface {
	ObserveDerived(hourlySpend, accuracyMean float64)
}

// SegmentTotals summarises the log.
type SegmentTotals struct {
	Segments   int    `json:"segments"`
	Events     int    `json:"events"`
	SizeBytes  int64  `json:"size_bytes"`
	Generation uint64 `json:"active_generation"`
}

// Snapshot is everything a display needs at one instant.
type Snapshot struct {
	CollectedAt time.Time       `json:"collected_at"`
	Session     session.Status  `json:"session"`
	Spend       spend.Result    `json:"spend"`
	Accuracy    accuracy.Report `json:"accuracy"`
	Segments    []audit.Segment `json:"segments"`
	Totals      SegmentTotals   `json:"totals"`
}

// Partial reports whether any part was derived from an incomplete log.
func (s Snapshot) Partial() bool {
	return s.Spend.Partial() || s.Accuracy.Partial()
}

// Collector gathers snapshots. Sessions and Observer are optional.
type Collector struct {
	Sessions SessionSource
	Source   spend.Source
	Spend    *spend.Calculator
	Accuracy *accuracy.Tracker
	Observer DerivedObserver
	Now      func() time.Time
}

// Collect builds a Snapshot for the hour window ending at asOf. The spend
// total, the accuracy replay and the segment listing run concurrently.
func (c *Collector) Collect(ctx context.Context, asOf time.Time) (Snapshot, error) {
	if c.Source == nil || c.Spend == nil || c.Accuracy == nil {
		return Snapshot{}, errors.New("status: source, spend and accuracy are required")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	snap := Snapshot{CollectedAt: now().UTC()}
	if c.Sessions != nil {
		snap.Session = c.Sessions.GetStatus()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := c.Spend.HourlySpend(asOf)
		if err != nil {
			return err
		}
		snap.Spend = res
		return ctx.Err()
	})

	g.Go(func() error {
		segs, err := c.Source.Segments()
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		snap.Accuracy = c.Accuracy.Evaluate(audit.ReadSegments(segs))
		return nil
	})

	g.Go(func() error {
		segs, err := c.Source.Segments()
		if err != nil {
			return err
		}
		snap.Segments, snap.Totals = Describe(segs)
		return ctx.Err()
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	if c.Observer != nil {
		c.Observer.ObserveDerived(snap.Spend.Total.Float64(), snap.Accuracy.Mean)
	}
	return snap, nil
}

// Describe fills in size and counts for segments whose manifest entry does
// not carry them (the active segment of an out-of-process snapshot).
func Describe(segs []audit.Segment) ([]audit.Segment, SegmentTotals) {
	out := make([]audit.Segment, 0, len(segs))
	var totals SegmentTotals
	for _, s := range segs {
		if s.SizeBytes < 0 {
			if fi, err := os.Stat(s.Path); err == nil {
				s.SizeBytes = fi.Size()
			} else {
				s.SizeBytes = 0
			}
		}
		if !s.Closed() && s.EventCount == 0 && s.SizeBytes > 0 {
			events, _ := audit.ReadSegment(s)
			s.EventCount = len(events)
			if len(events) > 0 {
				s.FirstSeq = events[0].Sequence
				s.LastSeq = events[len(events)-1].Sequence
			}
		}
		totals.Segments++
		totals.Events += s.EventCount
		totals.SizeBytes += s.SizeBytes
		if s.Generation > totals.Generation {
			totals.Generation = s.Generation
		}
		out = append(out, s)
	}
	return out, totals
}
