// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Warning reports a record that replay skipped.
type Warning struct {
	Segment string `json:"segment"`
	Line    int    `json:"line"`
	Offset  int64  `json:"offset"`
	Reason  string `json:"reason"`

	// Truncated marks an incomplete final record, the expected result of
	// an interrupted or in-progress write.
	Truncated bool `json:"truncated,omitempty"`
}

func (w Warning) String() string {
	if w.Line == 0 {
		return fmt.Sprintf("%s: %s", filepath.Base(w.Segment), w.Reason)
	}
	return fmt.Sprintf("%s:%d: %s", filepath.Base(w.Segment), w.Line, w.Reason)
}

// Replay is the ordered result of reading a set of segments.
type Replay struct {
	Events   []Event
	Segments []Segment
	Warnings []Warning
}

// Complete reports whether every record was readable.
func (r *Replay) Complete() bool {
	return len(r.Warnings) == 0
}

// OfType returns the events of type t in log order.
func (r *Replay) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// scanFile decodes complete records of path starting at byte offset start
// and stopping before offset limit (limit < 0 reads to EOF). validEnd is
// the offset just past the last newline-terminated line.
func scanFile(path string, start, limit int64, fn func(Event)) (validEnd int64, warnings []Warning, err error) {
	f, err := os.Open(path)
	if err != nil {
		return start, nil, err
	}
	defer f.Close()

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return start, nil, err
		}
	}
	var r io.Reader = f
	if limit >= 0 {
		r = io.LimitReader(f, max(limit-start, 0))
	}
	br := bufio.NewReader(r)

	offset := start
	validEnd = start
	line := 0
	for {
		chunk, readErr := br.ReadBytes('\n')
		if len(chunk) > 0 {
			line++
			if chunk[len(chunk)-1] != '\n' {
				warnings = append(warnings, Warning{
					Segment: path,
					Line:    line,
					Offset:  offset,
					Reason:  fmt.Sprintf("truncated trailing record (%d bytes)", len(chunk)),

					Truncated: true,
				})
				break
			}
			if body := bytes.TrimSpace(chunk); len(body) > 0 {
				var e Event
				if uerr := json.Unmarshal(body, &e); uerr != nil {
					warnings = append(warnings, Warning{
						Segment: path,
						Line:    line,
						Offset:  offset,
						Reason:  "malformed record: " + uerr.Error(),
					})
				} else {
					fn(e)
				}
			}
			offset += int64(len(chunk))
			validEnd = offset
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return validEnd, warnings, readErr
		}
	}
	return validEnd, warnings, nil
}

// ReadSegment decodes one segment. Unreadable files and skipped records are
// reported as warnings.
func ReadSegment(seg Segment) ([]Event, []Warning) {
	var events []Event
	_, warnings, err := scanFile(seg.Path, 0, seg.SizeBytes, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		reason := "unreadable segment: " + err.Error()
		if errors.Is(err, os.ErrNotExist) {
			reason = "segment missing"
		}
		warnings = append(warnings, Warning{Segment: seg.Path, Reason: reason})
	}
	return events, warnings
}

// ReadSegments replays segs in generation order. It never fails: damaged
// or missing segments contribute warnings and whatever records survive.
func ReadSegments(segs []Segment) *Replay {
	ordered := append([]Segment(nil), segs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Generation < ordered[j].Generation })

	r := &Replay{Segments: ordered}
	for _, seg := range ordered {
		events, warnings := ReadSegment(seg)
		r.Events = append(r.Events, events...)
		r.Warnings = append(r.Warnings, warnings...)
	}
	return r
}

// ReadDir replays the whole log in dir without taking the writer lock.
func ReadDir(dir string) (*Replay, error) {
	segs, err := LoadSnapshot(dir)
	if err != nil {
		return nil, err
	}
	return ReadSegments(segs), nil
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Problem is an integrity violation found by Verify.
type Problem struct {
	SessionID string `json:"session_id,omitempty"`
	Sequence  uint64 `json:"sequence_no,omitempty"`
	Reason    string `json:"reason"`
}

func (p Problem) String() string {
	if p.SessionID == "" {
		return p.Reason
	}
	return fmt.Sprintf("%s #%d: %s", p.SessionID, p.Sequence, p.Reason)
}

// Verify checks the hash chain and per-session sequence continuity of a
// replay. base is the prev_hash expected on the first record ("" for a log
// that was never pruned).
func Verify(r *Replay, base string) []Problem {
	var problems []Problem
	for _, w := range r.Warnings {
		problems = append(problems, Problem{Reason: "skipped record: " + w.String()})
	}

	prev := base
	lastSeq := make(map[string]uint64)
	for i, e := range r.Events {
		if i > 0 || base != "" {
			if e.PrevHash != prev {
				problems = append(problems, Problem{e.SessionID, e.Sequence, "prev_hash does not match preceding record"})
			}
		}
		if got, err := e.ComputeHash(); err != nil || got != e.Hash {
			problems = append(problems, Problem{e.SessionID, e.Sequence, "hash mismatch"})
		}
		prev = e.Hash

		last, seen := lastSeq[e.SessionID]
		switch {
		case !seen && base == "" && e.Sequence != 1:
			problems = append(problems, Problem{e.SessionID, e.Sequence, "session does not start at sequence 1"})
		case seen && e.Sequence != last+1:
			problems = append(problems, Problem{e.SessionID, e.Sequence, fmt.Sprintf("sequence gap after %d", last)})
		}
		lastSeq[e.SessionID] = e.Sequence
	}
	return problems
}

// VerifyDir replays and verifies the log in dir.
func VerifyDir(dir string) (*Replay, []Problem, error) {
	r, err := ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	base := ""
	if m, ok, err := LoadManifest(dir); err == nil && ok {
		base = m.PrunedHead
	}
	return r, Verify(r, base), nil
}
