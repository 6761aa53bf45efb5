// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/scout/internal/accuracy"
	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/config"
	"github.com/jeranaias/scout/internal/git"
	"github.com/jeranaias/scout/internal/metrics"
	"github.com/jeranaias/scout/internal/router"
	"github.com/jeranaias/scout/internal/session"
	"github.com/jeranaias/scout/internal/spend"
)

// app carries the loaded configuration and builds collaborators for the
// command being run.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer

	// environ replaces the process environment (tests).
	environ map[string]string
	// workDir replaces the working directory (tests).
	workDir string
}

// =============================================================================
// CONFIGURATION AND LOGGING
// =============================================================================

func (a *app) load() error {
	cfg, err := config.LoadWith(config.LoadOptions{
		UserDir:    a.environ[config.EnvPrefix+"HOME"],
		File:       a.flags.configPath,
		ProjectDir: a.workDir,
		Environ:    a.environ,
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.flags.dir != "" {
		cfg.Audit.Dir = a.flags.dir
		cfg.Session.StatePath = ""
		cfg.Spend.CachePath = ""
		if err := cfg.SetDefaults(); err != nil {
			return err
		}
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if a.flags.verbose {
		cfg.Log.Level = "debug"
	}
	if err := setupLogging(cfg.Log, a.errOut); err != nil {
		return err
	}
	a.cfg = cfg
	log.WithField("dir", cfg.Audit.Dir).Debug("configuration loaded")
	return nil
}

func setupLogging(cfg config.LogConfig, w io.Writer) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	log.SetOutput(w)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: !IsStderrTTY()})
	}
	return nil
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func (a *app) sessions() *session.Manager {
	return session.NewManager(session.Config{
		Store: session.NewFileStore(a.cfg.Session.StatePath),
	})
}

// openLog takes the writer lock, retrying with exponential backoff while
// another scout process holds it.
func (a *app) openLog(ctx context.Context, m *metrics.Collector) (*audit.Logger, error) {
	opts := audit.Options{
		Dir:              a.cfg.Audit.Dir,
		Policy:           a.cfg.Audit.Policy(),
		DisableRedaction: a.cfg.Audit.DisableRedaction,
	}
	if m != nil {
		opts.OnAppend = m.ObserveAppend
		opts.OnRotate = m.ObserveRotate
	}

	wait := a.cfg.Audit.LockWait()
	if wait <= 0 {
		return audit.Open(opts)
	}

	var l *audit.Logger
	op := func() error {
		var err error
		l, err = audit.Open(opts)
		if errors.Is(err, audit.ErrLocked) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = wait

	notify := func(err error, next time.Duration) {
		log.WithField("retry_in", next).Debug("audit log locked, waiting")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return l, nil
}

// spendCache opens the configured derived cache. The returned close
// function is never nil.
func (a *app) spendCache() (spend.Cache, func() error) {
	noop := func() error { return nil }
	switch a.cfg.Spend.Cache {
	case config.CacheNone:
		return nil, noop
	case config.CacheMemory:
		return spend.NewMemoryCache(), noop
	}
	c, err := spend.OpenSQLiteCache(a.cfg.Spend.CachePath)
	if err != nil {
		log.WithError(err).Warn("Spend cache unavailable, replaying without it")
		return nil, noop
	}
	return c, c.Close
}

func (a *app) tracker() *accuracy.Tracker {
	return accuracy.NewTracker(a.cfg.Accuracy)
}

func (a *app) analyzer() (*git.ExecAnalyzer, error) {
	dir := a.workDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = wd
	}
	g := git.NewExecAnalyzer(dir)
	g.Binary = a.cfg.Git.Binary
	g.Timeout = a.cfg.Git.Timeout()
	return g, nil
}

// recorder bundles what a writing command needs.
type recorder struct {
	log      *audit.Logger
	sessions *session.Manager
	router   *router.Router
	calc     *spend.Calculator
	tracker  *accuracy.Tracker
	closers  []func() error

	// started is set when newRecorder began the session itself.
	started bool
}

func (r *recorder) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// newRecorder opens the log, resumes the session and wires the router with
// its handlers. Without an active session it starts one when start is set
// and fails with session.ErrNoSession otherwise. withGit enables commit
// enrichment.
func (a *app) newRecorder(ctx context.Context, withGit, start bool) (*recorder, error) {
	l, err := a.openLog(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	r := &recorder{log: l, closers: []func() error{l.Close}}

	r.sessions = a.sessions()
	s, resumed, err := r.sessions.Resume()
	if err != nil {
		r.Close()
		return nil, err
	}
	if !resumed {
		if !start {
			r.Close()
			return nil, session.ErrNoSession
		}
		if s, err = r.sessions.Start(); err != nil {
			r.Close()
			return nil, err
		}
		r.started = true
		log.WithField("session_id", s.ID).Info("Started new audit session")
	}

	cache, closeCache := a.spendCache()
	r.closers = append(r.closers, closeCache)
	r.calc = spend.NewCalculator(spend.FromLogger(l), cache)
	r.tracker = a.tracker()

	cfg := router.Config{
		Log:        l,
		Sessions:   r.sessions,
		GitTimeout: a.cfg.Git.Timeout(),
	}
	if withGit {
		g, err := a.analyzer()
		if err != nil {
			r.Close()
			return nil, err
		}
		cfg.Git = g
	}
	if r.router, err = router.New(cfg); err != nil {
		r.Close()
		return nil, err
	}
	r.router.Handle(audit.EventSpend, router.SpendHandler(r.calc))
	r.router.Handle(audit.EventValidation, router.AccuracyHandler(r.tracker))
	return r, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

// emit prints data as JSON with --json, otherwise runs human.
func (a *app) emit(command string, data any, human func(w io.Writer)) error {
	if a.flags.jsonOut {
		return NewJSONResponse(command, data).Print(a.out)
	}
	human(a.out)
	return nil
}
