// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// spend_cmd.go - Spend reporting.
//
// Command: spend [subcommand]
// Short:   Show the hourly spend rate
//
// Subcommands:
//   (default)           Spend of the last complete UTC hour
//   records             Spend entries with their running hourly total
//   hourly              Per-hour totals over a range
//
// Examples:
//   scout spend
//   scout spend --as-of 2025-03-01T15:00:00Z
//   scout spend records --since 6h
//   scout spend hourly --since 24h --json
//
// Spend commands only read the log; they never take the writer lock.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/spend"
)

func newSpendCmd(a *app) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "spend",
		Short: "Show the spend of the last complete hour",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseTimeFlag(asOf, time.Now())
			if err != nil {
				return err
			}
			return a.runSpend(at)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference time (RFC3339, default now)")
	cmd.AddCommand(newSpendRecordsCmd(a), newSpendHourlyCmd(a))
	return cmd
}

// rangeFlags are shared by the range subcommands.
type rangeFlags struct {
	since time.Duration
	from  string
	to    string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.since, "since", 24*time.Hour, "range length ending at --to")
	cmd.Flags().StringVar(&f.from, "from", "", "range start (RFC3339, overrides --since)")
	cmd.Flags().StringVar(&f.to, "to", "", "range end (RFC3339, default now)")
}

func (f *rangeFlags) resolve() (time.Time, time.Time, error) {
	to, err := parseTimeFlag(f.to, time.Now())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, err := parseTimeFlag(f.from, to.Add(-f.since))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("range start %s is not before end %s",
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

func newSpendRecordsCmd(a *app) *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List spend entries with their running hourly total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := rf.resolve()
			if err != nil {
				return err
			}
			calc, closeCache := a.readCalculator()
			defer closeCache()

			records, warnings, err := calc.Records(from, to)
			if err != nil {
				return err
			}
			data := map[string]any{"records": records, "warnings": warnings}
			return a.emit("spend records", data, func(w io.Writer) {
				if len(records) == 0 {
					fmt.Fprintln(w, DimStyle.Render("No spend recorded in range."))
				}
				for _, r := range records {
					fmt.Fprintf(w, "%s  %-10s %-4s %-12s %s\n",
						r.Timestamp.Format(time.RFC3339), r.Amount.String(), r.Currency,
						r.Source, DimStyle.Render("hour total "+r.CumulativeInWindow.String()))
				}
				printWarnings(w, warnings)
			})
		},
	}
	rf.register(cmd)
	return cmd
}

func newSpendHourlyCmd(a *app) *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "hourly",
		Short: "Per-hour spend totals over a range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := rf.resolve()
			if err != nil {
				return err
			}
			calc, closeCache := a.readCalculator()
			defer closeCache()

			hours, warnings, err := calc.Hourly(from, to)
			if err != nil {
				return err
			}
			data := map[string]any{"hours": hours, "warnings": warnings}
			return a.emit("spend hourly", data, func(w io.Writer) {
				for _, h := range hours {
					fmt.Fprintf(w, "%s  %10s  %s\n", h.Start.Format("2006-01-02 15:04Z"),
						h.Total.String(), DimStyle.Render(fmt.Sprintf("%d entries", h.Count)))
				}
				printWarnings(w, warnings)
			})
		},
	}
	rf.register(cmd)
	return cmd
}

func (a *app) runSpend(asOf time.Time) error {
	calc, closeCache := a.readCalculator()
	defer closeCache()

	res, err := calc.HourlySpend(asOf)
	if err != nil {
		return err
	}
	return a.emit("spend", res, func(w io.Writer) {
		fmt.Fprintln(w, TitleStyle.Render("Hourly Spend"))
		fmt.Fprintln(w, RenderField("Window:", formatWindow(res.Window)))
		fmt.Fprintln(w, RenderField("Total:", HighlightStyle.Render(res.Display())))
		fmt.Fprintln(w, RenderField("Entries:", fmt.Sprint(res.Count)))
		printWarnings(w, res.Warnings)
	})
}

// readCalculator builds a calculator over the log directory for read-only
// commands.
func (a *app) readCalculator() (*spend.Calculator, func() error) {
	cache, closeCache := a.spendCache()
	return spend.NewCalculator(spend.FromDir(a.cfg.Audit.Dir), cache), closeCache
}

// =============================================================================
// HELPERS
// =============================================================================

func parseTimeFlag(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339): %w", s, err)
	}
	return t, nil
}

func formatWindow(w spend.Window) string {
	return w.Start.Format("2006-01-02 15:04") + " - " + w.End.Format("15:04") + " UTC"
}

// printWarnings notes that a derived figure is partial.
func printWarnings(w io.Writer, warnings []audit.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(w, WarningStyle.Render(fmt.Sprintf("Partial result: %d record(s) could not be read", len(warnings))))
	for _, warn := range warnings {
		fmt.Fprintln(w, DimStyle.Render("  "+warn.String()))
	}
}
