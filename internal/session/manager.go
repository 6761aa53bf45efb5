// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDPrefix is prepended to every generated session ID.
const IDPrefix = "sess_"

var (
	// ErrIDGeneration means no unique ID could be produced. It is fatal for
	// the run and must not be retried silently.
	ErrIDGeneration = errors.New("session ID generation failed")

	// ErrSessionActive is returned by Start while another session is open.
	ErrSessionActive = errors.New("a session is already active")

	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active session")

	// ErrUnknownSession is returned by End for a session this manager
	// never issued or resumed.
	ErrUnknownSession = errors.New("unknown session")
)

// =============================================================================
// SESSION
// =============================================================================

// Session is one audit run. It is a value; closing a session produces a new
// value with EndedAt set.
type Session struct {
	ID        string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session has not been ended.
func (s Session) Active() bool {
	return s.ID != "" && s.EndedAt == nil
}

// Duration returns how long the session ran, or has run so far at now.
func (s Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// IDGenerator produces a new unique session ID.
type IDGenerator func() (string, error)

// NewID returns IDPrefix followed by a time-ordered random UUID.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIDGeneration, err)
	}
	return IDPrefix + id.String(), nil
}

// Config holds configuration for the session manager.
type Config struct {
	// Store persists the active session. Nil keeps state in memory only.
	Store Store

	// NewID overrides ID generation (tests).
	NewID IDGenerator

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Manager owns the lifecycle of the process's active session. At most one
// session is active at a time.
type Manager struct {
	mu sync.Mutex

	current *Session
	ended   map[string]Session
	last    Session

	store Store
	newID IDGenerator
	now   func() time.Time

	onStart func(Session)
	onEnd   func(Session)
}

// NewManager creates a session manager. No session is active until Start
// or Resume is called.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		ended: make(map[string]Session),
		store: cfg.Store,
		newID: cfg.NewID,
		now:   cfg.Now,
	}
	if m.newID == nil {
		m.newID = NewID
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SetStartCallback registers fn to run after a session starts.
func (m *Manager) SetStartCallback(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = fn
}

// SetEndCallback registers fn to run after a session ends.
func (m *Manager) SetEndCallback(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = fn
}

// Start creates a new active session. It fails with ErrIDGeneration when
// no ID can be produced and with ErrSessionActive while another session is
// still open.
func (m *Manager) Start() (Session, error) {
	m.mu.Lock()
	s, cb, err := m.startLocked()
	m.mu.Unlock()
	if err != nil {
		return Session{}, err
	}
	if cb != nil {
		cb(s)
	}
	return s, nil
}

func (m *Manager) startLocked() (Session, func(Session), error) {
	if m.current != nil {
		return Session{}, nil, fmt.Errorf("%w: %s", ErrSessionActive, m.current.ID)
	}

	id, err := m.newID()
	if err != nil {
		if !errors.Is(err, ErrIDGeneration) {
			err = fmt.Errorf("%w: %v", ErrIDGeneration, err)
		}
		return Session{}, nil, err
	}

	s := Session{ID: id, StartedAt: m.now().UTC()}
	if m.store != nil {
		if err := m.store.Save(s); err != nil {
			return Session{}, nil, fmt.Errorf("failed to persist session: %w", err)
		}
	}
	m.current = &s
	return s, m.onStart, nil
}

// Resume adopts the active session recorded in the store, if any. It
// returns false when there is nothing to resume.
func (m *Manager) Resume() (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return *m.current, true, nil
	}
	if m.store == nil {
		return Session{}, false, nil
	}
	s, ok, err := m.store.Load()
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok || !s.Active() {
		return Session{}, false, nil
	}
	m.current = &s
	return s, true, nil
}

// StartOrResume resumes the stored active session or starts a new one.
func (m *Manager) StartOrResume() (Session, error) {
	s, ok, err := m.Resume()
	if err != nil {
		return Session{}, err
	}
	if ok {
		return s, nil
	}
	return m.Start()
}

// End closes s and returns the closed value. Ending an already ended
// session is a no-op that returns the closed value again, including when
// another process ended it.
func (m *Manager) End(s Session) (Session, error) {
	m.mu.Lock()
	closed, cb, err := m.endLocked(s)
	m.mu.Unlock()
	if err != nil {
		return Session{}, err
	}
	if cb != nil {
		cb(closed)
	}
	return closed, nil
}

// endLocked returns a nil callback when s was already closed.
func (m *Manager) endLocked(s Session) (Session, func(Session), error) {
	if closed, ok := m.ended[s.ID]; ok {
		return closed, nil, nil
	}
	if s.EndedAt != nil {
		return s, nil, nil
	}

	if m.store != nil {
		stored, ok, err := m.store.Load()
		if err != nil {
			return Session{}, nil, fmt.Errorf("failed to load session: %w", err)
		}
		switch {
		case ok && stored.ID == s.ID && !stored.Active():
			m.forgetLocked(stored)
			return stored, nil, nil
		case ok && stored.ID != s.ID && m.current != nil && m.current.ID == s.ID:
			// Another process ended s and started a new session.
			m.current = nil
			return Session{}, nil, fmt.Errorf("%w: %s was replaced by %s", ErrUnknownSession, s.ID, stored.ID)
		}
	}
	if m.current == nil || m.current.ID != s.ID {
		return Session{}, nil, fmt.Errorf("%w: %s", ErrUnknownSession, s.ID)
	}

	closed := *m.current
	ended := m.now().UTC()
	closed.EndedAt = &ended

	if m.store != nil {
		if err := m.store.Save(closed); err != nil {
			return Session{}, nil, fmt.Errorf("failed to persist session end: %w", err)
		}
	}
	m.forgetLocked(closed)
	return closed, m.onEnd, nil
}

func (m *Manager) forgetLocked(closed Session) {
	if m.current != nil && m.current.ID == closed.ID {
		m.current = nil
	}
	m.ended[closed.ID] = closed
	m.last = closed
}

// EndCurrent ends the active session. When the latest session is already
// closed it is returned again; ErrNoSession means none was ever started.
func (m *Manager) EndCurrent() (Session, error) {
	s, ok, err := m.Resume()
	if err != nil {
		return Session{}, err
	}
	if ok {
		return m.End(s)
	}
	last, ok, err := m.Last()
	if err != nil {
		return Session{}, err
	}
	if !ok || last.Active() {
		return Session{}, ErrNoSession
	}
	return last, nil
}

// Last returns the most recent session, active or closed.
func (m *Manager) Last() (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return *m.current, true, nil
	}
	if m.store != nil {
		s, ok, err := m.store.Load()
		if err != nil {
			return Session{}, false, fmt.Errorf("failed to load session: %w", err)
		}
		return s, ok, nil
	}
	return m.last, m.last.ID != "", nil
}

// Current returns the active session.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// SessionID returns the active session ID, or "" when none is active.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// =============================================================================
// STATUS
// =============================================================================

// Status represents the current session status for display.
type Status struct {
	Active    bool          `json:"active"`
	SessionID string        `json:"session_id,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Status{}
	}
	return Status{
		Active:    true,
		SessionID: m.current.ID,
		StartedAt: m.current.StartedAt,
		Duration:  m.current.Duration(m.now()),
	}
}

// FormatDuration formats a duration for display ("45s", "3m", "2h 5m").
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return strconv.Itoa(mins) + "m"
		}
		return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return strconv.Itoa(hours) + "h"
	}
	return strconv.Itoa(hours) + "h " + strconv.Itoa(mins) + "m"
}
