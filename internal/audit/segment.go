// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/scout/internal/util"
)

const (
	// ManifestName is the file that names the active generation.
	ManifestName = "MANIFEST.json"

	// LockName is the writer lock file inside the log directory.
	LockName = "scout.lock"

	segmentPrefix   = "segment-"
	segmentExt      = ".jsonl"
	manifestVersion = 1
)

// Segment describes one segment file. FirstSeq and LastSeq are the
// sequence numbers of the first and last record in the file.
type Segment struct {
	Path       string     `json:"path"`
	Generation uint64     `json:"generation"`
	SizeBytes  int64      `json:"size_bytes"`
	FirstSeq   uint64     `json:"first_event_seq"`
	LastSeq    uint64     `json:"last_event_seq"`
	EventCount int        `json:"event_count"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	LastHash   string     `json:"last_hash,omitempty"`
}

// Closed reports whether the segment is no longer written to.
func (s Segment) Closed() bool {
	return s.ClosedAt != nil
}

// Key identifies the exact content of a closed segment. It is stable for
// as long as the segment exists.
func (s Segment) Key() string {
	return fmt.Sprintf("%d:%d:%s", s.Generation, s.SizeBytes, s.LastHash)
}

// SegmentName returns the file name for a generation.
func SegmentName(gen uint64) string {
	return fmt.Sprintf("%s%08d%s", segmentPrefix, gen, segmentExt)
}

// ParseSegmentName extracts the generation from a segment file name.
func ParseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentExt) {
		return 0, false
	}
	n := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentExt)
	gen, err := strconv.ParseUint(n, 10, 64)
	if err != nil || gen == 0 {
		return 0, false
	}
	return gen, true
}

// =============================================================================
// MANIFEST
// =============================================================================

// Manifest is the single pointer to the active generation. It is replaced
// atomically on every rotation.
type Manifest struct {
	Version          int               `json:"version"`
	ActiveGeneration uint64            `json:"active_generation"`
	ActiveCreatedAt  time.Time         `json:"active_created_at"`
	Closed           []Segment         `json:"closed_segments"`
	Sessions         map[string]uint64 `json:"sessions"`
	ChainHead        string            `json:"chain_head"`
	PrunedHead       string            `json:"pruned_head,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func newManifest(now time.Time) *Manifest {
	return &Manifest{
		Version:          manifestVersion,
		ActiveGeneration: 1,
		ActiveCreatedAt:  now,
		Sessions:         make(map[string]uint64),
		UpdatedAt:        now,
	}
}

// LoadManifest reads the manifest of dir. ok is false when none exists.
func LoadManifest(dir string) (*Manifest, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("corrupt manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, false, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if m.Sessions == nil {
		m.Sessions = make(map[string]uint64)
	}
	return &m, true, nil
}

func (m *Manifest) save(dir string, now time.Time) error {
	m.UpdatedAt = now
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(filepath.Join(dir, ManifestName), data, 0644)
}

func (m *Manifest) clone() *Manifest {
	c := *m
	c.Closed = append([]Segment(nil), m.Closed...)
	c.Sessions = make(map[string]uint64, len(m.Sessions))
	for k, v := range m.Sessions {
		c.Sessions[k] = v
	}
	return &c
}

// listSegmentFiles returns the generations present in dir, ascending.
func listSegmentFiles(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var gens []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if gen, ok := ParseSegmentName(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// LoadSnapshot returns the segments of dir in generation order without
// taking the writer lock. The active segment is returned with SizeBytes -1:
// readers consume it up to its last complete record.
func LoadSnapshot(dir string) ([]Segment, error) {
	m, ok, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	if ok {
		segs := make([]Segment, 0, len(m.Closed)+1)
		for _, s := range m.Closed {
			s.Path = filepath.Join(dir, filepath.Base(s.Path))
			segs = append(segs, s)
		}
		segs = append(segs, Segment{
			Path:       filepath.Join(dir, SegmentName(m.ActiveGeneration)),
			Generation: m.ActiveGeneration,
			SizeBytes:  -1,
			CreatedAt:  m.ActiveCreatedAt,
		})
		return segs, nil
	}

	gens, err := listSegmentFiles(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	segs := make([]Segment, 0, len(gens))
	for _, gen := range gens {
		segs = append(segs, Segment{
			Path:       filepath.Join(dir, SegmentName(gen)),
			Generation: gen,
			SizeBytes:  -1,
		})
	}
	return segs, nil
}
