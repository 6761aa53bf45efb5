// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/scout/internal/money"
)

func openTestLogger(t *testing.T, dir string, policy RotationPolicy) *Logger {
	t.Helper()
	l, err := Open(Options{Dir: dir, Policy: policy})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func commit(session, hash string) Event {
	return NewEvent(session, time.Time{}, CommitPayload{
		CommitHash:  hash,
		GitMetadata: GitMetadataAvailable,
	})
}

// =============================================================================
// APPEND AND ROTATION
// =============================================================================

func TestAppend_RotatesEveryTwoEvents(t *testing.T) {
	dir := t.TempDir()
	l := openTestLogger(t, dir, CountPolicy{MaxEvents: 2})

	for i := 1; i <= 3; i++ {
		e, err := l.Append(commit("sess_a", fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), e.Sequence)
	}

	segs := l.Snapshot()
	require.Len(t, segs, 2)

	first, second := segs[0], segs[1]
	assert.Equal(t, uint64(1), first.Generation)
	assert.True(t, first.Closed())
	assert.Equal(t, 2, first.EventCount)
	assert.Equal(t, uint64(1), first.FirstSeq)
	assert.Equal(t, uint64(2), first.LastSeq)

	assert.Equal(t, uint64(2), second.Generation)
	assert.False(t, second.Closed())
	assert.Equal(t, 1, second.EventCount)
	assert.Equal(t, uint64(3), second.FirstSeq)

	events, warnings := ReadSegment(first)
	assert.Empty(t, warnings)
	require.Len(t, events, 2)
	assert.Equal(t, "c1", events[0].Payload.(CommitPayload).CommitHash)
	assert.Equal(t, "c2", events[1].Payload.(CommitPayload).CommitHash)

	events, _ = ReadSegment(second)
	require.Len(t, events, 1)
	assert.Equal(t, "c3", events[0].Payload.(CommitPayload).CommitHash)

	// An out-of-process reader sees the same layout through the manifest.
	m, ok, err := LoadManifest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), m.ActiveGeneration)
	require.Len(t, m.Closed, 1)
	assert.Equal(t, uint64(2), m.Closed[0].LastSeq)
}

func TestAppend_SequenceGaplessUnderConcurrency(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), SizePolicy{MaxBytes: 2048})

	const workers, perWorker = 8, 40
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := l.Append(commit("sess_a", fmt.Sprintf("w%d-%d", w, i)))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	r := l.Replay()
	require.True(t, r.Complete(), "warnings: %v", r.Warnings)
	require.Len(t, r.Events, workers*perWorker)
	for i, e := range r.Events {
		assert.Equal(t, uint64(i+1), e.Sequence, "record %d", i)
	}
	assert.Greater(t, len(r.Segments), 1, "expected rotation with a 2KiB limit")
	assert.Empty(t, Verify(r, ""))
}

func TestAppend_SequencesArePerSession(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), nil)

	a1, _ := l.Append(commit("sess_a", "1"))
	b1, _ := l.Append(commit("sess_b", "2"))
	a2, _ := l.Append(commit("sess_a", "3"))

	assert.Equal(t, uint64(1), a1.Sequence)
	assert.Equal(t, uint64(1), b1.Sequence)
	assert.Equal(t, uint64(2), a2.Sequence)
	assert.Equal(t, uint64(2), l.LastSequence("sess_a"))
}

func TestAppend_ConcatenatedSegmentsReproduceSequence(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), SizePolicy{MaxBytes: 600})

	var appended []Event
	for i := 0; i < 25; i++ {
		e, err := l.Append(NewEvent("sess_a", time.Time{}, SpendPayload{
			Amount: money.FromCents(int64(100 + i)),
			Source: "api",
		}))
		require.NoError(t, err)
		appended = append(appended, e)
	}

	segs := l.Snapshot()
	require.Greater(t, len(segs), 2)
	for _, seg := range segs {
		data, err := os.ReadFile(seg.Path)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(string(data), "\n"), "segment %d ends mid-record", seg.Generation)
		assert.Equal(t, seg.SizeBytes, int64(len(data)))
	}

	r := ReadSegments(segs)
	require.Len(t, r.Events, len(appended))
	for i := range appended {
		assert.Equal(t, appended[i].Hash, r.Events[i].Hash)
		assert.True(t, appended[i].Timestamp.Equal(r.Events[i].Timestamp))
	}
}

func TestAppend_RejectsInvalidEvents(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), nil)

	_, err := l.Append(Event{SessionID: "sess_a"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = l.Append(NewEvent("", time.Time{}, GenericPayload{}))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	e := NewEvent("sess_a", time.Time{}, GenericPayload{})
	e.Type = EventSpend
	_, err = l.Append(e)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Equal(t, uint64(0), l.LastSequence("sess_a"))
}

func TestAppend_AgePolicy(t *testing.T) {
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	l, err := Open(Options{
		Dir:    t.TempDir(),
		Policy: AgePolicy{MaxAge: time.Hour},
		Now:    func() time.Time { return clock },
	})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(commit("sess_a", "1"))
	require.NoError(t, err)
	clock = clock.Add(30 * time.Minute)
	_, err = l.Append(commit("sess_a", "2"))
	require.NoError(t, err)
	assert.Len(t, l.Snapshot(), 1)

	clock = clock.Add(31 * time.Minute)
	_, err = l.Append(commit("sess_a", "3"))
	require.NoError(t, err)
	assert.Len(t, l.Snapshot(), 2)
}

func TestRotate_EmptySegmentIsKept(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), CountPolicy{MaxEvents: 1})
	require.NoError(t, l.Rotate())
	assert.Len(t, l.Snapshot(), 1)

	var rotations int
	l.onRotate = func(closed, active Segment) {
		rotations++
		assert.Equal(t, closed.Generation+1, active.Generation)
	}
	_, _ = l.Append(commit("sess_a", "1"))
	_, _ = l.Append(commit("sess_a", "2"))
	assert.Equal(t, 1, rotations)
}

// =============================================================================
// FAILURE HANDLING
// =============================================================================

type flakyFile struct {
	segmentFile
	fail bool
}

func (f *flakyFile) Write(p []byte) (int, error) {
	if f.fail {
		n, _ := f.segmentFile.Write(p[:len(p)/2])
		return n, syscall.ENOSPC
	}
	return f.segmentFile.Write(p)
}

func TestAppend_WriteFailureReturnsErrorAndLeavesNoFragment(t *testing.T) {
	var ff *flakyFile
	l, err := Open(Options{
		Dir: t.TempDir(),
		openFile: func(path string, flag int, perm os.FileMode) (segmentFile, error) {
			f, err := openOSFile(path, flag, perm)
			if err != nil {
				return nil, err
			}
			ff = &flakyFile{segmentFile: f}
			return ff, nil
		},
	})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(commit("sess_a", "ok"))
	require.NoError(t, err)

	ff.fail = true
	_, err = l.Append(commit("sess_a", "lost"))
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorContains(t, err, "no space left")
	assert.Equal(t, uint64(1), l.LastSequence("sess_a"))

	ff.fail = false
	e, err := l.Append(commit("sess_a", "retried"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Sequence)

	r := l.Replay()
	assert.True(t, r.Complete(), "warnings: %v", r.Warnings)
	require.Len(t, r.Events, 2)
	assert.Empty(t, Verify(r, ""))
}

func TestAppend_RotationCreateFailureKeepsActiveSegment(t *testing.T) {
	dir := t.TempDir()
	l := openTestLogger(t, dir, CountPolicy{MaxEvents: 1})

	_, err := l.Append(commit("sess_a", "1"))
	require.NoError(t, err)

	// Occupy the next generation's name so the exclusive create fails.
	blocker := filepath.Join(dir, SegmentName(2))
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err = l.Append(commit("sess_a", "2"))
	require.ErrorIs(t, err, ErrRotateFailed)
	assert.Equal(t, uint64(1), l.LastSequence("sess_a"))

	require.NoError(t, os.Remove(blocker))
	e, err := l.Append(commit("sess_a", "2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Sequence)
	assert.Len(t, l.Snapshot(), 2)
}

// =============================================================================
// RECOVERY
// =============================================================================

func TestOpen_ResumesSequenceAndChain(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir, Policy: CountPolicy{MaxEvents: 2}})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.Append(commit("sess_a", fmt.Sprint(i)))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	l2 := openTestLogger(t, dir, CountPolicy{MaxEvents: 2})
	e, err := l2.Append(commit("sess_a", "after-restart"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), e.Sequence)

	r := l2.Replay()
	require.Len(t, r.Events, 4)
	assert.Empty(t, Verify(r, ""))
}

func TestOpen_TruncatesIncompleteTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	_, err = l.Append(commit("sess_a", "1"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	active := filepath.Join(dir, SegmentName(1))
	f, err := os.OpenFile(active, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"session_id":"sess_a","sequence_no":2,"ti`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Readers skip the fragment with a warning.
	r, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	require.Len(t, r.Warnings, 1)
	assert.True(t, r.Warnings[0].Truncated)

	// The writer cuts it off and continues the sequence.
	l2 := openTestLogger(t, dir, nil)
	e, err := l2.Append(commit("sess_a", "2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Sequence)

	r = l2.Replay()
	assert.True(t, r.Complete())
	assert.Len(t, r.Events, 2)
}

func TestOpen_RebuildsMissingManifest(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir, Policy: CountPolicy{MaxEvents: 1}})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.Append(commit("sess_a", fmt.Sprint(i)))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, ManifestName)))

	l2 := openTestLogger(t, dir, CountPolicy{MaxEvents: 1})
	segs := l2.Snapshot()
	require.Len(t, segs, 3)
	assert.Equal(t, uint64(3), segs[2].Generation)

	e, err := l2.Append(commit("sess_a", "next"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), e.Sequence)
	assert.Empty(t, Verify(l2.Replay(), ""))
}

func TestOpen_RemovesEmptyStraySegment(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	_, err = l.Append(commit("sess_a", "1"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	stray := filepath.Join(dir, SegmentName(2))
	require.NoError(t, os.WriteFile(stray, nil, 0644))

	openTestLogger(t, dir, nil)
	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_SecondWriterIsRejected(t *testing.T) {
	dir := t.TempDir()
	openTestLogger(t, dir, nil)

	_, err := Open(Options{Dir: dir})
	assert.ErrorIs(t, err, ErrLocked)
}

// =============================================================================
// RETENTION AND REDACTION
// =============================================================================

func TestPrune_KeepsNewestAndChainStillVerifies(t *testing.T) {
	dir := t.TempDir()
	l := openTestLogger(t, dir, CountPolicy{MaxEvents: 1})
	for i := 0; i < 5; i++ {
		_, err := l.Append(commit("sess_a", fmt.Sprint(i)))
		require.NoError(t, err)
	}

	removed, err := l.Prune(2)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	for _, seg := range removed {
		_, err := os.Stat(seg.Path)
		assert.True(t, os.IsNotExist(err))
	}

	segs := l.Snapshot()
	require.Len(t, segs, 3)
	assert.Equal(t, uint64(3), segs[0].Generation)

	_, problems, err := VerifyDir(dir)
	require.NoError(t, err)
	assert.Empty(t, problems)

	none, err := l.Prune(5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppend_RedactsFreeText(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), nil)

	e, err := l.Append(NewEvent("sess_a", time.Time{}, CommitPayload{
		CommitHash:  "abc123",
		Message:     "rotate creds password=hunter2",
		GitMetadata: GitMetadataAvailable,
	}))
	require.NoError(t, err)

	p := e.Payload.(CommitPayload)
	assert.NotContains(t, p.Message, "hunter2")
	assert.Equal(t, "abc123", p.CommitHash)

	data, err := os.ReadFile(l.Snapshot()[0].Path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

func TestAppend_InvalidUTF8StillVerifies(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir})
	require.NoError(t, err)

	payloads := []Payload{
		CommitPayload{CommitHash: "abc", Message: "caf\xe9 fix", Branch: "main", GitMetadata: GitMetadataAvailable},
		SpendPayload{Amount: money.MustParse("1"), Note: "bad \xff byte"},
		ValidationPayload{Field: "name\xfe", Kind: "exact", Expected: TextValue("\xff"), Actual: TextValue("x")},
		GenericPayload{Name: "note", Attributes: map[string]string{"z": "\xff\xfe", "\xc3": "v"}},
	}
	for _, p := range payloads {
		stored, err := l.Append(NewEvent("sess_a", time.Time{}, p))
		require.NoError(t, err)
		assert.NotContains(t, fmt.Sprint(stored.Payload), "\xff")
	}
	require.NoError(t, l.Close())

	replay, problems, err := VerifyDir(dir)
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Len(t, replay.Events, len(payloads))
	assert.Equal(t, "\ufffd\ufffd", replay.Events[3].Payload.(GenericPayload).Attributes["z"])
}

func TestAppend_RejectsInvalidUTF8SessionID(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), nil)
	_, err := l.Append(commit("sess_\xff", "abc"))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestRecordFormat(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), nil)
	_, err := l.Append(NewEvent("sess_a", time.Date(2025, 1, 1, 9, 10, 0, 0, time.UTC), SpendPayload{
		Amount:   money.MustParse("10.00"),
		Currency: "USD",
	}))
	require.NoError(t, err)

	data, err := os.ReadFile(l.Snapshot()[0].Path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"session_id", "sequence_no", "timestamp", "event_type", "payload", "prev_hash", "hash"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "spend", raw["event_type"])
	assert.Equal(t, "10.00", raw["payload"].(map[string]any)["amount"])
}
