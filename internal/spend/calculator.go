// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package spend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/money"
)

// Source supplies the segments to replay.
type Source interface {
	Segments() ([]audit.Segment, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() ([]audit.Segment, error)

func (f SourceFunc) Segments() ([]audit.Segment, error) { return f() }

// FromLogger replays the live logger's snapshot.
func FromLogger(l *audit.Logger) Source {
	return SourceFunc(func() ([]audit.Segment, error) { return l.Snapshot(), nil })
}

// FromDir replays a log directory without taking its writer lock.
func FromDir(dir string) Source {
	return SourceFunc(func() ([]audit.Segment, error) { return audit.LoadSnapshot(dir) })
}

// Entry is one spend event as seen by the calculator.
type Entry struct {
	SessionID string        `json:"session_id"`
	Sequence  uint64        `json:"sequence_no"`
	Timestamp time.Time     `json:"timestamp"`
	Amount    money.Decimal `json:"amount"`
	Currency  string        `json:"currency,omitempty"`
	Source    string        `json:"source,omitempty"`
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies in the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// HourWindow returns the last complete UTC hour before asOf.
func HourWindow(asOf time.Time) Window {
	end := asOf.UTC().Truncate(time.Hour)
	return Window{Start: end.Add(-time.Hour), End: end}
}

// Result is a spend total over a window. Total is only set when every
// entry in the window shares one currency; otherwise MixedCurrency is true
// and the figures are in ByCurrency.
type Result struct {
	Window        Window                   `json:"window"`
	Total         money.Decimal            `json:"total"`
	Currency      string                   `json:"currency,omitempty"`
	MixedCurrency bool                     `json:"mixed_currency,omitempty"`
	ByCurrency    map[string]money.Decimal `json:"by_currency"`
	Count         int                      `json:"count"`
	Warnings      []audit.Warning          `json:"warnings,omitempty"`
}

// Partial reports whether some records could not be replayed.
func (r Result) Partial() bool {
	return len(r.Warnings) > 0
}

// Display renders the total, or each currency's total when mixed.
func (r Result) Display() string {
	if !r.MixedCurrency {
		return strings.TrimSpace(r.Total.String() + " " + r.Currency)
	}
	currencies := make([]string, 0, len(r.ByCurrency))
	for cur := range r.ByCurrency {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)
	parts := make([]string, 0, len(currencies))
	for _, cur := range currencies {
		parts = append(parts, strings.TrimSpace(r.ByCurrency[cur].String()+" "+cur))
	}
	return "mixed: " + strings.Join(parts, ", ")
}

// Record is a spend entry with the running total of its hour window.
type Record struct {
	Entry
	WindowStart        time.Time     `json:"window_start"`
	CumulativeInWindow money.Decimal `json:"cumulative_in_window"`
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator computes spend by replaying a Source.
type Calculator struct {
	src   Source
	cache Cache

	mu       sync.Mutex
	observed *Entry
}

// NewCalculator creates a calculator. cache may be nil.
func NewCalculator(src Source, cache Cache) *Calculator {
	return &Calculator{src: src, cache: cache}
}

// entries replays every spend entry in log order.
func (c *Calculator) entries() ([]Entry, []audit.Warning, error) {
	segs, err := c.src.Segments()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list segments: %w", err)
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Generation < segs[j].Generation })

	var all []Entry
	var warnings []audit.Warning
	for _, seg := range segs {
		cacheable := c.cache != nil && seg.Closed()
		if cacheable {
			cached, ok, err := c.cache.Get(seg.Key())
			if err != nil {
				log.WithError(err).WithField("segment", seg.Generation).Warn("spend cache read failed")
			} else if ok {
				all = append(all, cached...)
				continue
			}
		}

		events, segWarnings := audit.ReadSegment(seg)
		extracted := extract(events)
		all = append(all, extracted...)
		warnings = append(warnings, segWarnings...)

		// Segments with skipped records are re-read so their warnings keep
		// surfacing.
		if cacheable && len(segWarnings) == 0 {
			if err := c.cache.Put(seg.Key(), extracted); err != nil {
				log.WithError(err).WithField("segment", seg.Generation).Warn("spend cache write failed")
			}
		}
	}
	return all, warnings, nil
}

func extract(events []audit.Event) []Entry {
	var out []Entry
	for _, e := range events {
		if entry, ok := entryFor(e); ok {
			out = append(out, entry)
		}
	}
	return out
}

func entryFor(e audit.Event) (Entry, bool) {
	p, ok := e.Payload.(audit.SpendPayload)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		SessionID: e.SessionID,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp.UTC(),
		Amount:    p.Amount,
		Currency:  p.Currency,
		Source:    p.Source,
	}, true
}

// HourlySpend totals the spend of the last complete hour before asOf.
func (c *Calculator) HourlySpend(asOf time.Time) (Result, error) {
	return c.SpendIn(HourWindow(asOf))
}

// SpendIn totals the spend whose timestamp lies in w.
func (c *Calculator) SpendIn(w Window) (Result, error) {
	if !w.Start.Before(w.End) {
		return Result{}, errors.New("spend window is empty")
	}
	entries, warnings, err := c.entries()
	if err != nil {
		return Result{}, err
	}
	res := Result{Window: w, Total: money.Zero, ByCurrency: make(map[string]money.Decimal), Warnings: warnings}
	for _, e := range entries {
		if !w.Contains(e.Timestamp) {
			continue
		}
		res.ByCurrency[e.Currency] = res.ByCurrency[e.Currency].Add(e.Amount)
		res.Count++
	}
	switch len(res.ByCurrency) {
	case 0:
	case 1:
		for cur, total := range res.ByCurrency {
			res.Currency, res.Total = cur, total
		}
	default:
		res.MixedCurrency = true
	}
	return res, nil
}

// Records returns the spend entries in [from, to) ordered by timestamp,
// each carrying the running total of its hour window. Running totals start
// at the top of from's hour, so entries before a mid-hour from still count
// toward it.
func (c *Calculator) Records(from, to time.Time) ([]Record, []audit.Warning, error) {
	entries, warnings, err := c.entries()
	if err != nil {
		return nil, nil, err
	}
	from, to = from.UTC(), to.UTC()
	w := Window{Start: from.Truncate(time.Hour), End: to}
	var in []Entry
	for _, e := range entries {
		if w.Contains(e.Timestamp) {
			in = append(in, e)
		}
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].Timestamp.Before(in[j].Timestamp) })

	records := make([]Record, 0, len(in))
	running := make(map[time.Time]money.Decimal)
	for _, e := range in {
		start := e.Timestamp.Truncate(time.Hour)
		total := running[start].Add(e.Amount)
		running[start] = total
		if e.Timestamp.Before(from) {
			continue
		}
		records = append(records, Record{Entry: e, WindowStart: start, CumulativeInWindow: total})
	}
	return records, warnings, nil
}

// HourTotal is the spend of one hour.
type HourTotal struct {
	Start time.Time     `json:"start"`
	Total money.Decimal `json:"total"`
	Count int           `json:"count"`
}

// Hourly returns per-hour totals for the hours in [from, to), including
// empty hours.
func (c *Calculator) Hourly(from, to time.Time) ([]HourTotal, []audit.Warning, error) {
	records, warnings, err := c.Records(from.UTC().Truncate(time.Hour), to)
	if err != nil {
		return nil, nil, err
	}
	byHour := make(map[time.Time]HourTotal)
	for _, r := range records {
		ht := byHour[r.WindowStart]
		ht.Start = r.WindowStart
		ht.Total = r.CumulativeInWindow
		ht.Count++
		byHour[r.WindowStart] = ht
	}
	var out []HourTotal
	for h := from.UTC().Truncate(time.Hour); h.Before(to); h = h.Add(time.Hour) {
		ht, ok := byHour[h]
		if !ok {
			ht = HourTotal{Start: h, Total: money.Zero}
		}
		out = append(out, ht)
	}
	return out, warnings, nil
}

// Observe notes a freshly stored spend event. It only feeds LastObserved;
// totals always come from replay.
func (c *Calculator) Observe(e audit.Event) error {
	entry, ok := entryFor(e)
	if !ok {
		return fmt.Errorf("event %s #%d is not a spend event", e.SessionID, e.Sequence)
	}
	c.mu.Lock()
	c.observed = &entry
	c.mu.Unlock()
	return nil
}

// LastObserved returns the most recent spend entry seen by Observe.
func (c *Calculator) LastObserved() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.observed == nil {
		return Entry{}, false
	}
	return *c.observed, true
}
