// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// =============================================================================
// ID TESTS
// =============================================================================

func TestNewID_Format(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	if !strings.HasPrefix(id, IDPrefix) {
		t.Errorf("ID should start with %q, got %q", IDPrefix, id)
	}
}

func TestNewID_SameMillisecondDistinct(t *testing.T) {
	const n = 1000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate session ID %q after %d calls", id, i)
		}
		seen[id] = true
	}
}

func TestStart_SameClockTickDistinct(t *testing.T) {
	// Two managers sharing a frozen clock model two processes started in
	// the same tick.
	now := fixedClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	a := NewManager(Config{Now: now})
	b := NewManager(Config{Now: now})

	sa, err := a.Start()
	if err != nil {
		t.Fatal(err)
	}
	sb, err := b.Start()
	if err != nil {
		t.Fatal(err)
	}
	if sa.ID == sb.ID {
		t.Errorf("sessions started in the same tick share ID %q", sa.ID)
	}
	if !sa.StartedAt.Equal(sb.StartedAt) {
		t.Errorf("expected identical start times")
	}
}

func TestNewID_ConcurrentDistinct(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id, err := NewID()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate ID %q", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestStart_IDGenerationFailureIsFatal(t *testing.T) {
	m := NewManager(Config{NewID: func() (string, error) {
		return "", errors.New("entropy unavailable")
	}})

	_, err := m.Start()
	if !errors.Is(err, ErrIDGeneration) {
		t.Fatalf("Start error = %v, want ErrIDGeneration", err)
	}
	if _, ok := m.Current(); ok {
		t.Error("no session should be active after a failed start")
	}
}

func TestStart_RejectsSecondActiveSession(t *testing.T) {
	m := NewManager(Config{})
	if _, err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start error = %v, want ErrSessionActive", err)
	}
}

func TestEnd_Idempotent(t *testing.T) {
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	m := NewManager(Config{Now: func() time.Time { return clock }})

	s, err := m.Start()
	if err != nil {
		t.Fatal(err)
	}

	clock = start.Add(90 * time.Second)
	first, err := m.End(s)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if first.EndedAt == nil || !first.EndedAt.Equal(clock) {
		t.Fatalf("EndedAt = %v, want %v", first.EndedAt, clock)
	}

	clock = start.Add(time.Hour)
	second, err := m.End(s)
	if err != nil {
		t.Fatalf("second End should be a no-op, got %v", err)
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("second End changed EndedAt to %v", second.EndedAt)
	}

	// Ending the closed value is also a no-op.
	if _, err := m.End(first); err != nil {
		t.Errorf("End(closed) = %v", err)
	}
	if first.Duration(clock) != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", first.Duration(clock))
	}
}

func TestEnd_UnknownSession(t *testing.T) {
	m := NewManager(Config{})
	_, err := m.End(Session{ID: "sess_other"})
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("End error = %v, want ErrUnknownSession", err)
	}
}

func TestCallbacksRun(t *testing.T) {
	m := NewManager(Config{})
	var started, ended string
	m.SetStartCallback(func(s Session) { started = s.ID })
	m.SetEndCallback(func(s Session) { ended = s.ID })

	s, _ := m.Start()
	if _, err := m.EndCurrent(); err != nil {
		t.Fatal(err)
	}
	if started != s.ID || ended != s.ID {
		t.Errorf("callbacks saw %q/%q, want %q", started, ended, s.ID)
	}

	// Ending again returns the closed session without another callback.
	ended = ""
	again, err := m.EndCurrent()
	if err != nil || again.ID != s.ID || again.EndedAt == nil {
		t.Errorf("second EndCurrent = %+v, %v", again, err)
	}
	if ended != "" {
		t.Error("end callback ran for an already closed session")
	}

	if _, err := NewManager(Config{}).EndCurrent(); !errors.Is(err, ErrNoSession) {
		t.Errorf("EndCurrent with no session = %v, want ErrNoSession", err)
	}
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestFileStore_ResumeAcrossManagers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	first := NewManager(Config{Store: NewFileStore(path)})
	s, err := first.StartOrResume()
	if err != nil {
		t.Fatal(err)
	}

	// A second process attaches to the same run.
	second := NewManager(Config{Store: NewFileStore(path)})
	resumed, err := second.StartOrResume()
	if err != nil {
		t.Fatal(err)
	}
	if resumed.ID != s.ID {
		t.Errorf("resumed ID = %q, want %q", resumed.ID, s.ID)
	}

	if _, err := second.End(resumed); err != nil {
		t.Fatal(err)
	}

	third := NewManager(Config{Store: NewFileStore(path)})
	if _, ok, err := third.Resume(); err != nil || ok {
		t.Errorf("Resume after End = ok %v err %v, want nothing to resume", ok, err)
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	if _, ok, err := store.Load(); err != nil || ok {
		t.Errorf("Load = ok %v err %v", ok, err)
	}
}

func TestEnd_IdempotentAcrossManagers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	first := NewManager(Config{Store: NewFileStore(path), Now: now})
	s, err := first.Start()
	if err != nil {
		t.Fatal(err)
	}

	clock = start.Add(time.Minute)
	second := NewManager(Config{Store: NewFileStore(path), Now: now})
	closed, err := second.EndCurrent()
	if err != nil {
		t.Fatal(err)
	}

	// The first manager still holds s as current; ending it must not
	// re-stamp the close time.
	clock = start.Add(time.Hour)
	stale, err := first.End(s)
	if err != nil {
		t.Fatalf("End from stale manager = %v", err)
	}
	if !stale.EndedAt.Equal(*closed.EndedAt) {
		t.Errorf("stale End re-stamped EndedAt to %v, want %v", stale.EndedAt, closed.EndedAt)
	}
	if _, ok := first.Current(); ok {
		t.Error("stale manager still reports an active session")
	}

	third := NewManager(Config{Store: NewFileStore(path), Now: now})
	fresh, err := third.End(s)
	if err != nil {
		t.Fatalf("End from fresh manager = %v", err)
	}
	if !fresh.EndedAt.Equal(*closed.EndedAt) {
		t.Errorf("fresh End EndedAt = %v, want %v", fresh.EndedAt, closed.EndedAt)
	}
	again, err := third.EndCurrent()
	if err != nil || again.ID != s.ID {
		t.Errorf("EndCurrent after close = %+v, %v", again, err)
	}
}

func TestEnd_StaleSessionReplacedByNewerOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	first := NewManager(Config{Store: NewFileStore(path)})
	old, err := first.Start()
	if err != nil {
		t.Fatal(err)
	}

	second := NewManager(Config{Store: NewFileStore(path)})
	if _, err := second.EndCurrent(); err != nil {
		t.Fatal(err)
	}
	newer, err := second.Start()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := first.End(old); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("End(old) = %v, want ErrUnknownSession", err)
	}
	third := NewManager(Config{Store: NewFileStore(path)})
	if s, ok, err := third.Resume(); err != nil || !ok || s.ID != newer.ID {
		t.Errorf("newer session was clobbered: %+v ok=%v err=%v", s, ok, err)
	}
}

// =============================================================================
// STATUS TESTS
// =============================================================================

func TestGetStatus(t *testing.T) {
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	m := NewManager(Config{Now: func() time.Time { return clock }})

	if st := m.GetStatus(); st.Active {
		t.Error("status should be inactive before Start")
	}
	s, _ := m.Start()
	clock = start.Add(5 * time.Minute)
	st := m.GetStatus()
	if !st.Active || st.SessionID != s.ID || st.Duration != 5*time.Minute {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{3 * time.Minute, "3m"},
		{3*time.Minute + 7*time.Second, "3m 7s"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
