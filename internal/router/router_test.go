// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/scout/internal/accuracy"
	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/money"
	"github.com/jeranaias/scout/internal/spend"
)

type fixedSession string

func (s fixedSession) SessionID() string { return string(s) }

type fakeGit struct {
	hash    string
	files   []string
	version string
	err     error
	block   chan struct{}
}

func (f *fakeGit) ChangedFiles(ctx context.Context) ([]string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.files, nil
}

func (f *fakeGit) Version(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.version, nil
}

func (f *fakeGit) CommitHash(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.hash, nil
}

type recorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	gitFails int
}

func (r *recorder) ObserveRoute(t audit.EventType, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[string(t)+"/"+outcome]++
}

func (r *recorder) SetInFlight(int64) {}

func (r *recorder) GitLookupFailed() {
	r.mu.Lock()
	r.gitFails++
	r.mu.Unlock()
}

func newTestRouter(t *testing.T, g *fakeGit) (*Router, *audit.Logger, *recorder) {
	t.Helper()
	l, err := audit.Open(audit.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	rec := &recorder{}
	cfg := Config{Log: l, Sessions: fixedSession("sess_test"), Metrics: rec, GitTimeout: time.Second}
	if g != nil {
		cfg.Git = g
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r, l, rec
}

// =============================================================================
// COMMIT ENRICHMENT
// =============================================================================

func TestRoute_CommitIsEnriched(t *testing.T) {
	r, l, rec := newTestRouter(t, &fakeGit{
		hash:    "abc123",
		files:   []string{"main.go", "go.mod"},
		version: "2.43.0",
	})

	stored, err := r.Route(context.Background(), RawEvent{Type: "post-commit"})
	require.NoError(t, err)
	assert.Equal(t, audit.EventCommit, stored.Type)
	assert.Equal(t, uint64(1), stored.Sequence)

	p := stored.Payload.(audit.CommitPayload)
	assert.Equal(t, "abc123", p.CommitHash)
	assert.Equal(t, []string{"main.go", "go.mod"}, p.ChangedFiles)
	assert.Equal(t, "2.43.0", p.GitVersion)
	assert.Equal(t, audit.GitMetadataAvailable, p.GitMetadata)

	replay := l.Replay()
	require.Len(t, replay.Events, 1)
	assert.Equal(t, 1, rec.outcomes["commit/stored"])
}

func TestRoute_GitFailureStillPersists(t *testing.T) {
	r, l, rec := newTestRouter(t, &fakeGit{err: errors.New("fatal: not a git repository")})

	stored, err := r.Route(context.Background(), RawEvent{
		Type: "commit",
		Data: json.RawMessage(`{"message":"fix parser"}`),
	})
	require.NoError(t, err)

	p := stored.Payload.(audit.CommitPayload)
	assert.Equal(t, audit.GitMetadataUnavailable, p.GitMetadata)
	assert.Contains(t, p.GitError, "not a git repository")
	assert.Equal(t, "fix parser", p.Message)
	assert.Equal(t, 1, rec.gitFails)

	replay := l.Replay()
	require.Len(t, replay.Events, 1)
	assert.Equal(t, audit.GitMetadataUnavailable, replay.Events[0].Payload.(audit.CommitPayload).GitMetadata)
}

func TestRoute_GitTimeoutStillPersists(t *testing.T) {
	g := &fakeGit{hash: "abc", block: make(chan struct{})}
	defer close(g.block)

	l, err := audit.Open(audit.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer l.Close()
	r, err := New(Config{Log: l, Sessions: fixedSession("sess_t"), Git: g, GitTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	stored, err := r.Route(context.Background(), RawEvent{Type: "commit"})
	require.NoError(t, err)
	p := stored.Payload.(audit.CommitPayload)
	assert.Equal(t, audit.GitMetadataUnavailable, p.GitMetadata)
	assert.Equal(t, "abc", p.CommitHash, "partial metadata is kept")
}

func TestRoute_NoAnalyzerMarksUnavailable(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	stored, err := r.Route(context.Background(), RawEvent{Type: "commit"})
	require.NoError(t, err)
	assert.Equal(t, audit.GitMetadataUnavailable, stored.Payload.(audit.CommitPayload).GitMetadata)
}

// =============================================================================
// DISPATCH
// =============================================================================

func TestRoute_DispatchesToTypedHandlers(t *testing.T) {
	r, l, _ := newTestRouter(t, &fakeGit{})

	calc := spend.NewCalculator(spend.FromLogger(l), spend.NewMemoryCache())
	tracker := accuracy.NewTracker(accuracy.DefaultConfig())
	r.Handle(audit.EventSpend, SpendHandler(calc))
	r.Handle(audit.EventValidation, AccuracyHandler(tracker))

	ts := time.Date(2025, 6, 1, 9, 10, 0, 0, time.UTC)
	raw, err := FromPayload(audit.SpendPayload{Amount: money.MustParse("10.00"), Currency: "USD"}, ts)
	require.NoError(t, err)
	_, err = r.Route(context.Background(), raw)
	require.NoError(t, err)

	last, ok := calc.LastObserved()
	require.True(t, ok)
	assert.True(t, last.Amount.Equal(money.FromInt64(10)), "amount = %s", last.Amount)

	raw, err = FromPayload(audit.ValidationPayload{
		Field:    "city",
		Kind:     "exact",
		Expected: audit.TextValue("Oslo"),
		Actual:   audit.TextValue("Oslo"),
	}, ts)
	require.NoError(t, err)
	_, err = r.Route(context.Background(), raw)
	require.NoError(t, err)

	m, ok := tracker.Last()
	require.True(t, ok)
	assert.Equal(t, 1.0, m.Score)

	res, err := calc.HourlySpend(ts.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(money.FromInt64(10)), "total = %s", res.Total)
}

func TestRoute_EachEventHandledOnce(t *testing.T) {
	r, l, _ := newTestRouter(t, &fakeGit{})

	var mu sync.Mutex
	seen := make(map[uint64]int)
	r.Handle(audit.EventGeneric, HandlerFunc(func(_ context.Context, e audit.Event) error {
		mu.Lock()
		seen[e.Sequence]++
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Route(context.Background(), RawEvent{Type: "generic"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 25)
	for seq, n := range seen {
		assert.Equal(t, 1, n, "sequence %d", seq)
	}
	assert.Len(t, l.Replay().Events, 25)
	assert.Equal(t, StateIdle, r.State())
}

func TestRoute_HandlerErrorDoesNotReappend(t *testing.T) {
	r, l, rec := newTestRouter(t, &fakeGit{})
	r.Handle(audit.EventGeneric, HandlerFunc(func(context.Context, audit.Event) error {
		return errors.New("boom")
	}))

	stored, err := r.Route(context.Background(), RawEvent{Type: "generic"})
	require.ErrorIs(t, err, ErrHandler)
	assert.Equal(t, uint64(1), stored.Sequence)
	assert.Len(t, l.Replay().Events, 1)
	assert.Equal(t, 1, rec.outcomes["generic/handler_error"])
}

func TestRoute_StateIsDispatchingWhileInFlight(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeGit{})
	entered := make(chan struct{})
	release := make(chan struct{})
	r.Handle(audit.EventGeneric, HandlerFunc(func(context.Context, audit.Event) error {
		close(entered)
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Route(context.Background(), RawEvent{Type: "generic"})
	}()

	<-entered
	assert.Equal(t, StateDispatching, r.State())
	assert.Equal(t, int64(1), r.InFlight())
	close(release)
	<-done
	assert.Equal(t, StateIdle, r.State())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestRoute_NoSession(t *testing.T) {
	l, err := audit.Open(audit.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer l.Close()
	r, err := New(Config{Log: l, Sessions: fixedSession("")})
	require.NoError(t, err)

	_, err = r.Route(context.Background(), RawEvent{Type: "generic"})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, l.Replay().Events)
}

type failingLog struct{}

func (failingLog) Append(audit.Event) (audit.Event, error) {
	return audit.Event{}, audit.ErrWriteFailed
}

func TestRoute_AppendFailureIsReturned(t *testing.T) {
	rec := &recorder{}
	r, err := New(Config{Log: failingLog{}, Sessions: fixedSession("sess_x"), Metrics: rec})
	require.NoError(t, err)

	called := false
	r.Handle(audit.EventGeneric, HandlerFunc(func(context.Context, audit.Event) error {
		called = true
		return nil
	}))

	_, err = r.Route(context.Background(), RawEvent{Type: "generic"})
	assert.ErrorIs(t, err, audit.ErrWriteFailed)
	assert.False(t, called)
	assert.Equal(t, 1, rec.outcomes["generic/failed"])
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Sessions: fixedSession("s")})
	assert.Error(t, err)
	_, err = New(Config{Log: failingLog{}})
	assert.Error(t, err)
}
