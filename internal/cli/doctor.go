// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation for scout.
//
// Command: doctor
// Short:   Run health checks on the audit setup
// Aliases: diag
//
// Health Checks Performed:
//   1. Config Valid       - Configuration layers load and validate
//   2. Log Writable       - Audit directory exists and is writable
//   3. Manifest           - Segment manifest is readable
//   4. Integrity          - Hash chain and sequences verify
//   5. Git Version        - git is installed and recent enough
//   6. Hook Installed     - post-commit hook present in this repository
//   7. Spend Cache        - Derived cache opens
//   8. Session            - Active session state
//
// Status Symbols:
//   [OK]    Pass  - Check successful
//   [!!]    Warn  - Non-critical issue detected
//   [FAIL]  Fail  - Critical issue detected
//
// Exit Codes:
//   0   No check failed
//   1   One or more checks failed
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/config"
	"github.com/jeranaias/scout/internal/git"
	"github.com/jeranaias/scout/internal/session"
	"github.com/jeranaias/scout/internal/spend"
)

// =============================================================================
// DOCTOR STYLES
// =============================================================================

var (
	checkPassStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	checkWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true)

	checkFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	fixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			PaddingLeft(2)
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

// String returns the string representation of the check status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "Pass"
	case CheckWarn:
		return "Warn"
	case CheckFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	for _, c := range []CheckStatus{CheckPass, CheckWarn, CheckFail} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown check status %q", text)
}

// Symbol returns the rendered symbol for the check status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return checkPassStyle.Render("[OK]")
	case CheckWarn:
		return checkWarnStyle.Render("[!!]")
	case CheckFail:
		return checkFailStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"` // Suggested fix command or instruction
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + fixStyle.Render("-> "+c.Fix)
	}
	return result
}

func pass(name, msg string) *HealthCheck {
	return &HealthCheck{Name: name, Status: CheckPass, Message: msg}
}

func warn(name, msg, fix string) *HealthCheck {
	return &HealthCheck{Name: name, Status: CheckWarn, Message: msg, Fix: fix}
}

func fail(name, msg, fix string) *HealthCheck {
	return &HealthCheck{Name: name, Status: CheckFail, Message: msg, Fix: fix}
}

// =============================================================================
// COMMAND
// =============================================================================

// ErrChecksFailed is returned by doctor when any check fails.
var ErrChecksFailed = errors.New("health checks failed")

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run health checks on the audit setup",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := a.runChecks(cmd.Context())

			failed := 0
			for _, c := range checks {
				if c.Status == CheckFail {
					failed++
				}
			}
			if err := a.emit("doctor", checks, func(w io.Writer) { renderChecks(w, checks) }); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", ErrChecksFailed, failed, len(checks))
			}
			return nil
		},
	}
}

func (a *app) runChecks(ctx context.Context) []*HealthCheck {
	checks := []*HealthCheck{
		a.checkConfig(),
		a.checkLogWritable(),
		a.checkManifest(),
		a.checkIntegrity(),
	}
	checks = append(checks, a.checkGit(ctx)...)
	checks = append(checks, a.checkSpendCache(), a.checkSession())
	return checks
}

func renderChecks(w io.Writer, checks []*HealthCheck) {
	fmt.Fprintln(w, TitleStyle.Render("Scout Doctor"))
	var passed, warned, failed int
	for _, c := range checks {
		fmt.Fprintln(w, c.Render())
		switch c.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failed++
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%d passed, %d warnings, %d failed", passed, warned, failed)))
}

// =============================================================================
// CHECKS
// =============================================================================

func (a *app) checkConfig() *HealthCheck {
	const name = "Config Valid"
	if err := a.cfg.Validate(); err != nil {
		return fail(name, fmt.Sprintf("Config invalid: %s", err), "Run: scout config show")
	}
	if len(a.cfg.Sources) == 0 {
		return pass(name, "Config valid (using defaults)")
	}
	return pass(name, fmt.Sprintf("Config valid (%d source(s))", len(a.cfg.Sources)))
}

func (a *app) checkLogWritable() *HealthCheck {
	const name = "Log Writable"
	dir := a.cfg.Audit.Dir
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fail(name, fmt.Sprintf("Could not create audit directory: %s", err),
			fmt.Sprintf("Create manually: mkdir -p %s", dir))
	}
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0600); err != nil {
		return fail(name, fmt.Sprintf("Audit directory not writable: %s", err),
			fmt.Sprintf("Check permissions: chmod 700 %s", dir))
	}
	os.Remove(testFile)
	return pass(name, "Audit directory writable: "+dir)
}

func (a *app) checkManifest() *HealthCheck {
	const name = "Manifest"
	m, ok, err := audit.LoadManifest(a.cfg.Audit.Dir)
	if err != nil {
		return fail(name, err.Error(), "The next writer rebuilds it: scout segments rotate")
	}
	if !ok {
		return warn(name, "No manifest yet (nothing recorded)", "Run: scout session start")
	}
	return pass(name, fmt.Sprintf("%d closed segment(s), active generation %d", len(m.Closed), m.ActiveGeneration))
}

func (a *app) checkIntegrity() *HealthCheck {
	const name = "Integrity"
	replay, problems, err := audit.VerifyDir(a.cfg.Audit.Dir)
	if err != nil {
		return fail(name, fmt.Sprintf("Could not read log: %s", err), "")
	}
	if len(problems) > 0 {
		return fail(name, fmt.Sprintf("%d integrity problem(s): %s", len(problems), problems[0]),
			"Run: scout verify")
	}
	return pass(name, fmt.Sprintf("%d event(s) verified", len(replay.Events)))
}

func (a *app) checkGit(ctx context.Context) []*HealthCheck {
	g, err := a.analyzer()
	if err != nil {
		return []*HealthCheck{warn("Git Version", err.Error(), "")}
	}
	have, err := git.CheckMinimum(ctx, g, a.cfg.Git.MinVersion)
	if err != nil {
		return []*HealthCheck{warn("Git Version", fmt.Sprintf("git check failed: %s", err),
			fmt.Sprintf("Install git %s or newer", a.cfg.Git.MinVersion))}
	}
	checks := []*HealthCheck{pass("Git Version", "git "+have)}

	hooks, err := g.HooksDir(ctx)
	if err != nil {
		return append(checks, warn("Hook Installed", "Not inside a git repository", ""))
	}
	ok, err := git.HookInstalled(hooks)
	switch {
	case err != nil:
		checks = append(checks, warn("Hook Installed", err.Error(), ""))
	case !ok:
		checks = append(checks, warn("Hook Installed", "post-commit hook not installed", "Run: scout hook install"))
	default:
		checks = append(checks, pass("Hook Installed", "post-commit hook installed"))
	}
	return checks
}

func (a *app) checkSpendCache() *HealthCheck {
	const name = "Spend Cache"
	if a.cfg.Spend.Cache != config.CacheSQLite {
		return pass(name, "Cache mode: "+a.cfg.Spend.Cache)
	}
	c, err := spend.OpenSQLiteCache(a.cfg.Spend.CachePath)
	if err != nil {
		return warn(name, fmt.Sprintf("SQLite cache unavailable: %s", err),
			"Remove the cache file; it is rebuilt from the log")
	}
	defer c.Close()
	n, err := c.Len()
	if err != nil {
		return warn(name, err.Error(), "")
	}
	return pass(name, fmt.Sprintf("SQLite cache holds %d segment(s)", n))
}

func (a *app) checkSession() *HealthCheck {
	const name = "Session"
	s, ok, err := a.sessions().Resume()
	if err != nil {
		return fail(name, err.Error(), "Remove "+a.cfg.Session.StatePath)
	}
	if !ok {
		return pass(name, "No active session")
	}
	return pass(name, fmt.Sprintf("Active session %s (%s)", s.ID,
		session.FormatDuration(s.Duration(time.Now()))))
}
