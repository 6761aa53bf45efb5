// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/scout/internal/accuracy"
	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/git"
	"github.com/jeranaias/scout/internal/spend"
)

var (
	// ErrNoSession is returned when Route is called without an active session.
	ErrNoSession = errors.New("no active session")

	// ErrHandler wraps a handler failure. The event is already stored.
	ErrHandler = errors.New("event handler failed")
)

// =============================================================================
// STATE
// =============================================================================

// State is the dispatch state of a Router.
type State int

const (
	// StateIdle means no Route call is in flight.
	StateIdle State = iota
	// StateDispatching means at least one Route call is in flight.
	StateDispatching
)

func (s State) String() string {
	if s == StateDispatching {
		return "dispatching"
	}
	return "idle"
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Appender persists events. *audit.Logger implements it.
type Appender interface {
	Append(e audit.Event) (audit.Event, error)
}

// SessionSource supplies the active session ID. *session.Manager implements it.
type SessionSource interface {
	SessionID() string
}

// Handler consumes a stored event.
type Handler interface {
	Handle(ctx context.Context, e audit.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e audit.Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e audit.Event) error { return f(ctx, e) }

// SpendHandler feeds stored spend events to c.
func SpendHandler(c *spend.Calculator) Handler {
	return HandlerFunc(func(_ context.Context, e audit.Event) error {
		return c.Observe(e)
	})
}

// AccuracyHandler feeds stored validation events to t.
func AccuracyHandler(t *accuracy.Tracker) Handler {
	return HandlerFunc(func(_ context.Context, e audit.Event) error {
		m, err := t.Observe(e)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"field": m.Field,
			"kind":  m.Kind,
			"score": m.Score,
		}).Debug("validation scored")
		return nil
	})
}

// Recorder receives routing measurements. *metrics.Collector implements it.
type Recorder interface {
	ObserveRoute(t audit.EventType, outcome string, d time.Duration)
	SetInFlight(n int64)
	GitLookupFailed()
}

// Route outcomes passed to Recorder.
const (
	OutcomeStored  = "stored"
	OutcomeFailed  = "failed"
	OutcomeHandler = "handler_error"
)

// =============================================================================
// ROUTER
// =============================================================================

// Config wires a Router.
type Config struct {
	Log      Appender
	Sessions SessionSource

	// Git enriches commit events. Nil stores commits as unavailable.
	Git        git.Analyzer
	GitTimeout time.Duration

	Metrics Recorder
	Now     func() time.Time
}

// Router classifies, enriches, persists and dispatches events.
type Router struct {
	log        Appender
	sessions   SessionSource
	git        git.Analyzer
	gitTimeout time.Duration
	metrics    Recorder
	now        func() time.Time

	inFlight atomic.Int64

	mu       sync.RWMutex
	handlers map[audit.EventType]Handler
}

// New creates a Router. Log and Sessions are required.
func New(cfg Config) (*Router, error) {
	if cfg.Log == nil {
		return nil, errors.New("router: audit log is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("router: session source is required")
	}
	r := &Router{
		log:        cfg.Log,
		sessions:   cfg.Sessions,
		git:        cfg.Git,
		gitTimeout: cfg.GitTimeout,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		handlers:   make(map[audit.EventType]Handler),
	}
	if r.gitTimeout <= 0 {
		r.gitTimeout = git.DefaultTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Handle registers h as the handler for t, replacing any previous one.
func (r *Router) Handle(t audit.EventType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, t)
		return
	}
	r.handlers[t] = h
}

// State reports whether a Route call is in flight.
func (r *Router) State() State {
	if r.inFlight.Load() > 0 {
		return StateDispatching
	}
	return StateIdle
}

// InFlight returns the number of Route calls in progress.
func (r *Router) InFlight() int64 {
	return r.inFlight.Load()
}

func (r *Router) enter() {
	n := r.inFlight.Add(1)
	if r.metrics != nil {
		r.metrics.SetInFlight(n)
	}
}

func (r *Router) leave() {
	n := r.inFlight.Add(-1)
	if r.metrics != nil {
		r.metrics.SetInFlight(n)
	}
}

// Route persists raw under the active session and dispatches the stored
// event to its handler. A handler error is returned wrapped in ErrHandler
// together with the stored event; the event is never appended twice.
func (r *Router) Route(ctx context.Context, raw RawEvent) (audit.Event, error) {
	r.enter()
	defer r.leave()
	start := time.Now()

	t, _ := ClassifyType(raw.Type)
	stored, outcome, err := r.route(ctx, raw)
	if stored.Type != "" {
		t = stored.Type
	}
	if r.metrics != nil {
		r.metrics.ObserveRoute(t, outcome, time.Since(start))
	}
	return stored, err
}

func (r *Router) route(ctx context.Context, raw RawEvent) (audit.Event, string, error) {
	sessionID := r.sessions.SessionID()
	if sessionID == "" {
		return audit.Event{}, OutcomeFailed, ErrNoSession
	}

	payload, err := Classify(raw)
	if err != nil {
		return audit.Event{}, OutcomeFailed, err
	}

	if c, ok := payload.(audit.CommitPayload); ok {
		payload = r.enrich(ctx, c)
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}

	stored, err := r.log.Append(audit.NewEvent(sessionID, ts, payload))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"session_id": sessionID,
			"event_type": payload.EventType(),
		}).Error("Failed to persist audit event")
		return audit.Event{}, OutcomeFailed, err
	}

	log.WithFields(log.Fields{
		"session_id":  stored.SessionID,
		"sequence_no": stored.Sequence,
		"event_type":  stored.Type,
	}).Debug("audit event stored")

	r.mu.RLock()
	h := r.handlers[stored.Type]
	r.mu.RUnlock()
	if h == nil {
		return stored, OutcomeStored, nil
	}
	if err := h.Handle(ctx, stored); err != nil {
		log.WithError(err).WithField("event_type", stored.Type).Warn("Event handler failed")
		return stored, OutcomeHandler, fmt.Errorf("%w: %s #%d: %v", ErrHandler, stored.Type, stored.Sequence, err)
	}
	return stored, OutcomeStored, nil
}

// enrich fills commit metadata from the git analyzer. Values supplied by the
// trigger are kept where the analyzer returns nothing.
func (r *Router) enrich(ctx context.Context, c audit.CommitPayload) audit.CommitPayload {
	if r.git == nil {
		c.GitMetadata = audit.GitMetadataUnavailable
		c.GitError = "no git analyzer configured"
		r.gitFailed(errors.New(c.GitError))
		return c
	}

	ctx, cancel := context.WithTimeout(ctx, r.gitTimeout)
	defer cancel()
	info, err := git.Describe(ctx, r.git)

	c.CommitHash = firstNonEmpty(info.Hash, c.CommitHash)
	c.Branch = firstNonEmpty(info.Branch, c.Branch)
	c.Message = firstNonEmpty(c.Message, info.Subject)
	if len(info.Files) > 0 {
		c.ChangedFiles = info.Files
	}
	c.GitVersion = firstNonEmpty(info.Version, c.GitVersion)

	if err != nil {
		c.GitMetadata = audit.GitMetadataUnavailable
		c.GitError = err.Error()
		r.gitFailed(err)
		return c
	}
	c.GitMetadata = audit.GitMetadataAvailable
	c.GitError = ""
	return c
}

func (r *Router) gitFailed(err error) {
	log.WithError(err).Warn("Git metadata unavailable, storing commit without it")
	if r.metrics != nil {
		r.metrics.GitLookupFailed()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
