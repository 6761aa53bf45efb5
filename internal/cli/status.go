// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Status command implementation.
//
// Command: status
// Short:   Show session, spend, accuracy and log summary
//
// Examples:
//   scout status
//   scout status --json
package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/session"
	"github.com/jeranaias/scout/internal/spend"
	"github.com/jeranaias/scout/internal/status"
)

func newStatusCmd(a *app) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session, spend, accuracy and log summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseTimeFlag(asOf, time.Now())
			if err != nil {
				return err
			}
			c, closeCache, err := a.statusCollector()
			if err != nil {
				return err
			}
			defer closeCache()

			snap, err := c.Collect(cmd.Context(), at)
			if err != nil {
				return err
			}
			return a.emit("status", snap, func(w io.Writer) { renderSnapshot(w, snap) })
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference time for the spend window (RFC3339)")
	return cmd
}

// statusCollector wires a read-only collector over the log directory.
func (a *app) statusCollector() (*status.Collector, func() error, error) {
	m := a.sessions()
	if _, _, err := m.Resume(); err != nil {
		return nil, nil, err
	}
	calc, closeCache := a.readCalculator()
	return &status.Collector{
		Sessions: m,
		Source:   spend.FromDir(a.cfg.Audit.Dir),
		Spend:    calc,
		Accuracy: a.tracker(),
	}, closeCache, nil
}

func renderSnapshot(w io.Writer, snap status.Snapshot) {
	fmt.Fprintln(w, TitleStyle.Render("Scout Status"))
	fmt.Fprintln(w, RenderSeparator(50))

	fmt.Fprintln(w, SectionStyle.Render("Session"))
	if snap.Session.Active {
		fmt.Fprintln(w, RenderField("ID:", snap.Session.SessionID))
		fmt.Fprintln(w, RenderField("Started:", humanize.Time(snap.Session.StartedAt)))
		fmt.Fprintln(w, RenderField("Duration:", session.FormatDuration(snap.Session.Duration)))
	} else {
		fmt.Fprintln(w, RenderField("ID:", DimStyle.Render("none")))
	}

	fmt.Fprintln(w, SectionStyle.Render("Spend"))
	fmt.Fprintln(w, RenderField("Window:", formatWindow(snap.Spend.Window)))
	fmt.Fprintln(w, RenderField("Hourly spend:", HighlightStyle.Render(snap.Spend.Display())))

	fmt.Fprintln(w, SectionStyle.Render("Accuracy"))
	if snap.Accuracy.Count == 0 {
		fmt.Fprintln(w, RenderField("Mean score:", DimStyle.Render("no validations")))
	} else {
		fmt.Fprintln(w, RenderField("Mean score:", HighlightStyle.Render(formatScore(snap.Accuracy.Mean))))
		fmt.Fprintln(w, RenderField("Validations:", strconv.Itoa(snap.Accuracy.Count)))
	}

	fmt.Fprintln(w, SectionStyle.Render("Audit Log"))
	fmt.Fprintln(w, RenderField("Segments:", strconv.Itoa(snap.Totals.Segments)))
	fmt.Fprintln(w, RenderField("Events:", humanize.Comma(int64(snap.Totals.Events))))
	fmt.Fprintln(w, RenderField("Size:", humanize.Bytes(uint64(snap.Totals.SizeBytes))))
	fmt.Fprintln(w, RenderField("Active generation:", strconv.FormatUint(snap.Totals.Generation, 10)))

	if snap.Partial() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, WarningStyle.Render("Some records could not be read; figures are partial. Run 'scout verify'."))
	}
}
