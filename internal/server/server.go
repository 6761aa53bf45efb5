// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/scout/internal/accuracy"
	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/spend"
	"github.com/jeranaias/scout/internal/status"
)

// DefaultRecordsSpan is the range served by /spend/records and
// /spend/hourly when from is omitted.
const DefaultRecordsSpan = 24 * time.Hour

// Config wires a Server.
type Config struct {
	// Dir is the audit log directory, read without the writer lock.
	Dir string

	Status   *status.Collector
	Spend    *spend.Calculator
	Accuracy *accuracy.Tracker

	// Metrics is served at /metrics when set.
	Metrics http.Handler

	RateLimit float64
	RateBurst int
	Token     string

	Now func() time.Time
}

// Server is the read-only API.
type Server struct {
	cfg  Config
	echo *echo.Echo
	now  func() time.Time
}

// New builds the echo instance and registers every route.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, now: cfg.Now}
	if s.now == nil {
		s.now = time.Now
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = echo.ExtractIPDirect()

	e.Use(middleware.Recover())
	e.Use(RequestLogger())
	e.Use(SecurityHeaders())
	if cfg.RateLimit > 0 {
		e.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware())
	}
	if cfg.Token != "" {
		e.Use(BearerAuth(cfg.Token))
	}

	e.GET("/health", s.HealthCheck)
	e.GET("/status", s.GetStatus)
	e.GET("/session", s.GetSession)
	e.GET("/spend", s.GetSpend)
	e.GET("/spend/records", s.GetSpendRecords)
	e.GET("/spend/hourly", s.GetSpendHourly)
	e.GET("/accuracy", s.GetAccuracy)
	e.GET("/segments", s.GetSegments)
	e.GET("/verify", s.Verify)
	if cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics))
	}

	s.echo = e
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Starting API server")
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) HealthCheck(c echo.Context) error {
	if _, err := audit.LoadSnapshot(s.cfg.Dir); err != nil {
		log.WithError(err).Error("Health check failed: audit log unreadable")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "audit log unreadable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) GetStatus(c echo.Context) error {
	asOf, err := s.timeParam(c, "as_of", s.now())
	if err != nil {
		return err
	}
	snap, err := s.cfg.Status.Collect(c.Request().Context(), asOf)
	if err != nil {
		return s.internal(c, err, "Failed to collect status")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) GetSession(c echo.Context) error {
	if s.cfg.Status == nil || s.cfg.Status.Sessions == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no session source",
		})
	}
	st := s.cfg.Status.Sessions.GetStatus()
	if !st.Active {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no active session",
		})
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) GetSpend(c echo.Context) error {
	asOf, err := s.timeParam(c, "as_of", s.now())
	if err != nil {
		return err
	}
	res, err := s.cfg.Spend.HourlySpend(asOf)
	if err != nil {
		return s.internal(c, err, "Failed to compute hourly spend")
	}
	return c.JSON(http.StatusOK, res)
}

type recordsResponse struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Records  []spend.Record  `json:"records"`
	Warnings []audit.Warning `json:"warnings,omitempty"`
}

func (s *Server) rangeParams(c echo.Context) (time.Time, time.Time, error) {
	to, err := s.timeParam(c, "to", s.now())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, err := s.timeParam(c, "from", to.Add(-DefaultRecordsSpan))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from must be before to")
	}
	return from, to, nil
}

func (s *Server) GetSpendRecords(c echo.Context) error {
	from, to, err := s.rangeParams(c)
	if err != nil {
		return err
	}
	records, warnings, err := s.cfg.Spend.Records(from, to)
	if err != nil {
		return s.internal(c, err, "Failed to list spend records")
	}
	if records == nil {
		records = []spend.Record{}
	}
	return c.JSON(http.StatusOK, recordsResponse{From: from, To: to, Records: records, Warnings: warnings})
}

func (s *Server) GetSpendHourly(c echo.Context) error {
	from, to, err := s.rangeParams(c)
	if err != nil {
		return err
	}
	hours, warnings, err := s.cfg.Spend.Hourly(from, to)
	if err != nil {
		return s.internal(c, err, "Failed to compute hourly totals")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"from":     from,
		"to":       to,
		"hours":    hours,
		"warnings": warnings,
	})
}

func (s *Server) GetAccuracy(c echo.Context) error {
	r, err := audit.ReadDir(s.cfg.Dir)
	if err != nil {
		return s.internal(c, err, "Failed to read audit log")
	}
	return c.JSON(http.StatusOK, s.cfg.Accuracy.Evaluate(r))
}

func (s *Server) GetSegments(c echo.Context) error {
	segs, err := audit.LoadSnapshot(s.cfg.Dir)
	if err != nil {
		return s.internal(c, err, "Failed to list segments")
	}
	if segs == nil {
		segs = []audit.Segment{}
	}
	return c.JSON(http.StatusOK, segs)
}

func (s *Server) Verify(c echo.Context) error {
	r, problems, err := audit.VerifyDir(s.cfg.Dir)
	if err != nil {
		return s.internal(c, err, "Failed to verify audit log")
	}
	if problems == nil {
		problems = []audit.Problem{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":       len(problems) == 0 && r.Complete(),
		"events":   len(r.Events),
		"problems": problems,
		"warnings": r.Warnings,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) timeParam(c echo.Context, name string, def time.Time) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

func (s *Server) internal(c echo.Context, err error, msg string) error {
	log.WithError(err).WithField("path", c.Path()).Error(msg)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}
