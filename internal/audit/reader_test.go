// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDir_EmptyDirectory(t *testing.T) {
	r, err := ReadDir(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, r.Events)
	assert.True(t, r.Complete())
}

func TestReadDir_SkipsMalformedLineWithWarning(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	for _, h := range []string{"a", "b", "c"} {
		_, err := l.Append(commit("sess_a", h))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	path := filepath.Join(dir, SegmentName(1))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.SplitAfter(string(data), "\n")
	lines[1] = "{not json}\n"
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "")), 0644))

	r, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, r.Events, 2)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, 2, r.Warnings[0].Line)
	assert.False(t, r.Warnings[0].Truncated)

	problems := Verify(r, "")
	assert.NotEmpty(t, problems, "a dropped record must break the chain")
}

func TestReadSegments_MissingSegmentIsAWarning(t *testing.T) {
	dir := t.TempDir()
	l := openTestLogger(t, dir, CountPolicy{MaxEvents: 1})
	for _, h := range []string{"a", "b", "c"} {
		_, err := l.Append(commit("sess_a", h))
		require.NoError(t, err)
	}
	segs := l.Snapshot()
	require.NoError(t, os.Remove(segs[0].Path))

	r := ReadSegments(segs)
	assert.Len(t, r.Events, 2)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0].Reason, "missing")
}

func TestReadSegments_ActiveReadIsBoundedBySnapshot(t *testing.T) {
	l := openTestLogger(t, t.TempDir(), nil)
	_, err := l.Append(commit("sess_a", "a"))
	require.NoError(t, err)

	snap := l.Snapshot()
	_, err = l.Append(commit("sess_a", "b"))
	require.NoError(t, err)

	r := ReadSegments(snap)
	assert.Len(t, r.Events, 1, "records written after the snapshot are invisible")
}

func TestVerify_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	_, err = l.Append(commit("sess_a", "aaaa"))
	require.NoError(t, err)
	_, err = l.Append(commit("sess_a", "bbbb"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, problems, err := VerifyDir(dir)
	require.NoError(t, err)
	assert.Empty(t, problems)

	path := filepath.Join(dir, SegmentName(1))
	data, _ := os.ReadFile(path)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), "aaaa", "zzzz", 1)), 0644))

	_, problems, err = VerifyDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, problems)
	assert.Contains(t, problems[0].Reason, "hash mismatch")
}
