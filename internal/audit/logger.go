// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	fslock "github.com/ipfs/go-fs-lock"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/scout/internal/util"
)

var (
	// ErrWriteFailed wraps filesystem errors from Append. The event was not
	// stored; the caller decides whether to retry.
	ErrWriteFailed = errors.New("audit write failed")

	// ErrRotateFailed wraps errors from segment rotation.
	ErrRotateFailed = errors.New("audit rotation failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("audit logger closed")

	// ErrLocked means another process owns the log directory.
	ErrLocked = errors.New("audit log directory is locked by another process")
)

// segmentFile is the subset of *os.File the logger writes through.
type segmentFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Close() error
}

func openOSFile(path string, flag int, perm os.FileMode) (segmentFile, error) {
	return os.OpenFile(path, flag, perm)
}

// Options configures a Logger.
type Options struct {
	// Dir is the log directory; it is created if missing.
	Dir string

	// Policy decides when to rotate. Nil uses size rotation at
	// DefaultMaxSegmentBytes.
	Policy RotationPolicy

	// Redactors scrub free-text payload fields. Nil uses DefaultRedactors;
	// set DisableRedaction to store text verbatim.
	Redactors        []Redactor
	DisableRedaction bool

	// OnAppend runs after each durable append, outside the logger lock.
	OnAppend func(Event)

	// OnRotate runs after a rotation with the closed segment and the new
	// active segment, outside the logger lock.
	OnRotate func(closed, active Segment)

	// Now overrides the clock (tests).
	Now func() time.Time

	openFile func(path string, flag int, perm os.FileMode) (segmentFile, error)
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

// Logger is the single writer of a log directory. All methods are safe for
// concurrent use; appends are serialized.
type Logger struct {
	mu sync.Mutex

	dir       string
	dirLock   io.Closer
	policy    RotationPolicy
	redactors []Redactor
	now       func() time.Time
	openFile  func(path string, flag int, perm os.FileMode) (segmentFile, error)

	// manifest reflects closed segments; active, sessions and head extend
	// it with the records of the active segment.
	manifest *Manifest
	active   Segment
	file     segmentFile
	sessions map[string]uint64
	head     string

	broken error
	closed bool

	onAppend func(Event)
	onRotate func(closed, active Segment)
}

// Open takes the directory lock and recovers the log state. An incomplete
// trailing record in the active segment is truncated away.
func Open(opts Options) (*Logger, error) {
	if opts.Dir == "" {
		return nil, errors.New("audit log directory not set")
	}
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	dirLock, err := fslock.Lock(opts.Dir, LockName)
	if err != nil {
		var le fslock.LockedError
		if errors.As(err, &le) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, opts.Dir)
		}
		return nil, fmt.Errorf("failed to lock audit log directory: %w", err)
	}

	l := &Logger{
		dir:       opts.Dir,
		dirLock:   dirLock,
		policy:    opts.Policy,
		redactors: opts.Redactors,
		now:       opts.Now,
		openFile:  opts.openFile,
		onAppend:  opts.OnAppend,
		onRotate:  opts.OnRotate,
	}
	if l.policy == nil {
		l.policy = SizePolicy{MaxBytes: DefaultMaxSegmentBytes}
	}
	if l.redactors == nil && !opts.DisableRedaction {
		l.redactors = DefaultRedactors()
	}
	if opts.DisableRedaction {
		l.redactors = nil
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.openFile == nil {
		l.openFile = openOSFile
	}

	if err := l.recover(); err != nil {
		dirLock.Close()
		return nil, err
	}
	return l, nil
}

func (l *Logger) recover() error {
	now := l.now().UTC()

	m, ok, err := LoadManifest(l.dir)
	if err != nil {
		return err
	}
	if !ok {
		if m, err = l.rebuildManifest(now); err != nil {
			return err
		}
	}

	if err := l.removeStraySegments(m.ActiveGeneration); err != nil {
		return err
	}

	active := Segment{
		Path:       filepath.Join(l.dir, SegmentName(m.ActiveGeneration)),
		Generation: m.ActiveGeneration,
		CreatedAt:  m.ActiveCreatedAt,
	}
	sessions := m.clone().Sessions
	head := m.ChainHead

	validEnd, warnings, err := scanFile(active.Path, 0, -1, func(e Event) {
		observe(&active, sessions, e)
		head = e.Hash
	})
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to scan active segment: %w", err)
	}
	for _, w := range warnings {
		log.WithField("segment", active.Path).Warn(w.String())
	}
	if info, statErr := os.Stat(active.Path); statErr == nil && info.Size() > validEnd {
		log.WithFields(log.Fields{
			"segment": active.Path,
			"bytes":   info.Size() - validEnd,
		}).Warn("truncating incomplete trailing record")
		if err := os.Truncate(active.Path, validEnd); err != nil {
			return fmt.Errorf("failed to truncate active segment: %w", err)
		}
	}
	active.SizeBytes = validEnd

	f, err := l.openFile(active.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open active segment: %w", err)
	}
	if !ok {
		if err := m.save(l.dir, now); err != nil {
			f.Close()
			return fmt.Errorf("failed to write manifest: %w", err)
		}
	}

	l.manifest = m
	l.active = active
	l.file = f
	l.sessions = sessions
	l.head = head
	return nil
}

// rebuildManifest reconstructs state from segment files when no manifest
// exists. The highest generation becomes the active segment.
func (l *Logger) rebuildManifest(now time.Time) (*Manifest, error) {
	m := newManifest(now)
	gens, err := listSegmentFiles(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	if len(gens) == 0 {
		return m, nil
	}
	if len(gens) > 1 {
		log.WithField("dir", l.dir).Warn("manifest missing, rebuilding from segment files")
	}

	for _, gen := range gens[:len(gens)-1] {
		seg := Segment{Path: SegmentName(gen), Generation: gen}
		path := filepath.Join(l.dir, seg.Path)
		validEnd, _, err := scanFile(path, 0, -1, func(e Event) {
			observe(&seg, m.Sessions, e)
			m.ChainHead = e.Hash
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", seg.Path, err)
		}
		seg.SizeBytes = validEnd
		seg.LastHash = m.ChainHead
		closedAt := now
		if info, err := os.Stat(path); err == nil {
			closedAt = info.ModTime().UTC()
		}
		seg.CreatedAt = closedAt
		seg.ClosedAt = &closedAt
		m.Closed = append(m.Closed, seg)
	}
	m.ActiveGeneration = gens[len(gens)-1]
	return m, nil
}

// removeStraySegments deletes empty files newer than the active generation,
// left by a crash between segment creation and the manifest update.
func (l *Logger) removeStraySegments(active uint64) error {
	gens, err := listSegmentFiles(l.dir)
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}
	for _, gen := range gens {
		if gen <= active {
			continue
		}
		path := filepath.Join(l.dir, SegmentName(gen))
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() > 0 {
			return fmt.Errorf("segment %s is newer than the manifest and not empty", filepath.Base(path))
		}
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

// observe folds a stored record into segment and session bookkeeping.
func observe(seg *Segment, sessions map[string]uint64, e Event) {
	if seg.EventCount == 0 {
		seg.FirstSeq = e.Sequence
	}
	seg.LastSeq = e.Sequence
	seg.EventCount++
	if e.Sequence > sessions[e.SessionID] {
		sessions[e.SessionID] = e.Sequence
	}
}

// =============================================================================
// APPEND
// =============================================================================

// Append durably stores e and returns it with Sequence, Timestamp, Type and
// hashes filled in. The record is fsynced before Append returns. On error
// nothing is stored and the session's sequence counter does not advance.
func (l *Logger) Append(e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e.Type = e.Payload.EventType()
	p, err := canonicalPayload(redactPayload(e.Payload, l.redactors))
	if err != nil {
		return Event{}, err
	}
	e.Payload = p

	l.mu.Lock()
	stored, rotated, err := l.appendLocked(e)
	onAppend, onRotate := l.onAppend, l.onRotate
	l.mu.Unlock()

	if rotated != nil && onRotate != nil {
		onRotate(rotated[0], rotated[1])
	}
	if err != nil {
		return Event{}, err
	}
	if onAppend != nil {
		onAppend(stored)
	}
	return stored, nil
}

func (l *Logger) appendLocked(e Event) (Event, []Segment, error) {
	if l.closed {
		return Event{}, nil, ErrClosed
	}
	if l.broken != nil {
		return Event{}, nil, fmt.Errorf("%w: %v", ErrWriteFailed, l.broken)
	}

	now := l.now().UTC()
	rotated, err := l.maybeRotateLocked(now)
	if err != nil {
		return Event{}, nil, err
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Sequence = l.sessions[e.SessionID] + 1
	e.PrevHash = l.head
	e.Hash = ""

	line, err := encodeLine(&e)
	if err != nil {
		return Event{}, rotated, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	n, err := l.file.Write(line)
	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = l.file.Sync()
	}
	if err != nil {
		l.discardPartialLocked()
		return Event{}, rotated, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	observe(&l.active, l.sessions, e)
	l.active.SizeBytes += int64(len(line))
	l.head = e.Hash
	return e, rotated, nil
}

// discardPartialLocked cuts the active segment back to its last complete
// record. If that fails the logger refuses further appends, since a new
// record would be glued to the fragment.
func (l *Logger) discardPartialLocked() {
	if err := l.file.Truncate(l.active.SizeBytes); err != nil {
		l.broken = err
		log.WithError(err).WithField("segment", l.active.Path).Error("audit segment left with partial record")
	}
}

// =============================================================================
// ROTATION
// =============================================================================

// Rotate closes the active segment now, unless it is empty.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	var rotated []Segment
	var err error
	if l.active.EventCount > 0 {
		rotated, err = l.rotateLocked(l.now().UTC())
	}
	onRotate := l.onRotate
	l.mu.Unlock()

	if rotated != nil && onRotate != nil {
		onRotate(rotated[0], rotated[1])
	}
	return err
}

func (l *Logger) maybeRotateLocked(now time.Time) ([]Segment, error) {
	if l.active.EventCount == 0 {
		return nil, nil
	}
	state := SegmentState{
		Generation: l.active.Generation,
		SizeBytes:  l.active.SizeBytes,
		EventCount: l.active.EventCount,
		CreatedAt:  l.active.CreatedAt,
	}
	if !l.policy.ShouldRotate(state, now) {
		return nil, nil
	}
	return l.rotateLocked(now)
}

// rotateLocked closes the active segment, creates generation+1 and then
// publishes it through the manifest. Until the manifest rename succeeds the
// previous generation remains the active one for every reader.
func (l *Logger) rotateLocked(now time.Time) ([]Segment, error) {
	oldPath := l.active.Path

	if err := l.file.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync: %v", ErrRotateFailed, err)
	}
	if err := l.file.Close(); err != nil {
		l.reopenActiveLocked()
		return nil, fmt.Errorf("%w: close: %v", ErrRotateFailed, err)
	}

	nextGen := l.active.Generation + 1
	nextPath := filepath.Join(l.dir, SegmentName(nextGen))
	f, err := l.openFile(nextPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.reopenActiveLocked()
		return nil, fmt.Errorf("%w: create %s: %v", ErrRotateFailed, filepath.Base(nextPath), err)
	}
	if err := util.SyncDir(l.dir); err != nil {
		log.WithError(err).Warn("failed to sync audit directory")
	}

	closedSeg := l.active
	closedSeg.Path = filepath.Base(oldPath)
	closedSeg.ClosedAt = &now
	closedSeg.LastHash = l.head

	next := l.manifest.clone()
	next.Closed = append(next.Closed, closedSeg)
	next.ActiveGeneration = nextGen
	next.ActiveCreatedAt = now
	for id, seq := range l.sessions {
		next.Sessions[id] = seq
	}
	next.ChainHead = l.head

	if err := next.save(l.dir, now); err != nil {
		f.Close()
		os.Remove(nextPath)
		l.reopenActiveLocked()
		return nil, fmt.Errorf("%w: manifest: %v", ErrRotateFailed, err)
	}

	l.manifest = next
	l.file = f
	l.active = Segment{Path: nextPath, Generation: nextGen, CreatedAt: now}

	closedSeg.Path = oldPath
	log.WithFields(log.Fields{
		"closed":     closedSeg.Generation,
		"events":     closedSeg.EventCount,
		"size_bytes": closedSeg.SizeBytes,
		"policy":     l.policy.String(),
	}).Debug("rotated audit segment")
	return []Segment{closedSeg, l.active}, nil
}

func (l *Logger) reopenActiveLocked() {
	f, err := l.openFile(l.active.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.broken = err
		return
	}
	l.file = f
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// Snapshot returns every segment in generation order. The active segment's
// SizeBytes is its size at snapshot time; bytes up to that offset never
// change, so a reader limited to it never observes a rotation in progress.
func (l *Logger) Snapshot() []Segment {
	l.mu.Lock()
	defer l.mu.Unlock()
	segs := make([]Segment, 0, len(l.manifest.Closed)+1)
	for _, s := range l.manifest.Closed {
		s.Path = filepath.Join(l.dir, filepath.Base(s.Path))
		segs = append(segs, s)
	}
	return append(segs, l.active)
}

// Replay reads every record visible in a fresh snapshot.
func (l *Logger) Replay() *Replay {
	return ReadSegments(l.Snapshot())
}

// LastSequence returns the last sequence number stored for sessionID.
func (l *Logger) LastSequence(sessionID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[sessionID]
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// Policy returns the rotation policy.
func (l *Logger) Policy() RotationPolicy {
	return l.policy
}

// PrunedHead returns the chain hash preceding the oldest retained record.
func (l *Logger) PrunedHead() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.manifest.PrunedHead
}

// =============================================================================
// RETENTION
// =============================================================================

// Prune deletes all but the newest keep closed segments and returns the
// removed ones. It only runs when invoked; the active segment is never
// removed.
func (l *Logger) Prune(keep int) ([]Segment, error) {
	if keep < 0 {
		keep = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	closed := l.manifest.Closed
	if len(closed) <= keep {
		return nil, nil
	}
	cut := len(closed) - keep
	removed := append([]Segment(nil), closed[:cut]...)

	next := l.manifest.clone()
	next.Closed = append([]Segment(nil), closed[cut:]...)
	next.PrunedHead = removed[len(removed)-1].LastHash
	if err := next.save(l.dir, l.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	l.manifest = next

	for i := range removed {
		removed[i].Path = filepath.Join(l.dir, filepath.Base(removed[i].Path))
		if err := os.Remove(removed[i].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("segment", removed[i].Path).Warn("failed to delete pruned segment")
		}
	}
	return removed, nil
}

// Close flushes the active segment and releases the directory lock.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.dirLock.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
