// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - Session lifecycle commands.
//
// Command: session [subcommand]
// Short:   Start, end or show the active audit session
//
// Subcommands:
//   start               Start a session (fails if one is active)
//   end                 End the active session
//   show (default)      Show the active session
//
// Examples:
//   scout session start
//   scout session end
//   scout session show --json
package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/router"
	"github.com/jeranaias/scout/internal/session"
)

// Generic event names recorded at session boundaries.
const (
	eventSessionStart = "session_start"
	eventSessionEnd   = "session_end"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start, end or show the active audit session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSessionShow()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start a new audit session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runSessionStart(cmd)
			},
		},
		&cobra.Command{
			Use:   "end",
			Short: "End the active audit session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runSessionEnd(cmd)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the active audit session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runSessionShow()
			},
		},
	)
	return cmd
}

func (a *app) runSessionStart(cmd *cobra.Command) error {
	r, err := a.newRecorder(cmd.Context(), false, true)
	if err != nil {
		return err
	}
	defer r.Close()

	s, _ := r.sessions.Current()
	if !r.started {
		return fmt.Errorf("%w: %s", session.ErrSessionActive, s.ID)
	}
	if _, err := r.router.Route(cmd.Context(), router.RawEvent{Type: eventSessionStart}); err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}

	return a.emit("session start", s, func(w io.Writer) {
		fmt.Fprintf(w, "%s Session %s started\n", RenderStatus("ok"), HighlightStyle.Render(s.ID))
	})
}

func (a *app) runSessionEnd(cmd *cobra.Command) error {
	r, err := a.newRecorder(cmd.Context(), false, false)
	if errors.Is(err, session.ErrNoSession) {
		// Already ended: report the closed session without recording again.
		closed, err := a.sessions().EndCurrent()
		if err != nil {
			return err
		}
		return a.emitSessionEnd(closed)
	}
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := r.router.Route(cmd.Context(), router.RawEvent{Type: eventSessionEnd}); err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	closed, err := r.sessions.EndCurrent()
	if err != nil {
		return err
	}
	return a.emitSessionEnd(closed)
}

func (a *app) emitSessionEnd(closed session.Session) error {
	return a.emit("session end", closed, func(w io.Writer) {
		fmt.Fprintf(w, "%s Session %s ended after %s\n", RenderStatus("ok"),
			HighlightStyle.Render(closed.ID), session.FormatDuration(closed.Duration(time.Now())))
	})
}

func (a *app) runSessionShow() error {
	m := a.sessions()
	if _, _, err := m.Resume(); err != nil {
		return err
	}
	st := m.GetStatus()

	return a.emit("session show", st, func(w io.Writer) {
		if !st.Active {
			fmt.Fprintln(w, DimStyle.Render("No active session. Run 'scout session start'."))
			return
		}
		fmt.Fprintln(w, TitleStyle.Render("Audit Session"))
		fmt.Fprintln(w, RenderField("Session:", st.SessionID))
		fmt.Fprintln(w, RenderField("Started:", humanize.Time(st.StartedAt)))
		fmt.Fprintln(w, RenderField("Duration:", session.FormatDuration(st.Duration)))
	})
}
