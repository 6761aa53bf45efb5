// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/audit"
)

func newAccuracyCmd(a *app) *cobra.Command {
	var showMetrics bool
	cmd := &cobra.Command{
		Use:   "accuracy",
		Short: "Show the accuracy score derived from validation events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			replay, err := audit.ReadDir(a.cfg.Audit.Dir)
			if err != nil {
				return err
			}
			report := a.tracker().Evaluate(replay)

			return a.emit("accuracy", report, func(w io.Writer) {
				fmt.Fprintln(w, TitleStyle.Render("Accuracy"))
				if report.Count == 0 {
					fmt.Fprintln(w, DimStyle.Render("No validation events recorded."))
				} else {
					fmt.Fprintln(w, RenderField("Validations:", strconv.Itoa(report.Count)))
					fmt.Fprintln(w, RenderField("Mean score:", HighlightStyle.Render(formatScore(report.Mean))))
					fmt.Fprintln(w, SectionStyle.Render("By field"))
					for _, name := range report.FieldNames() {
						f := report.Fields[name]
						fmt.Fprintf(w, "  %-18s mean %s  min %s  (%d)\n", name,
							formatScore(f.Mean), formatScore(f.Min), f.Count)
					}
				}
				if showMetrics {
					fmt.Fprintln(w, SectionStyle.Render("Metrics"))
					for _, m := range report.Metrics {
						fmt.Fprintf(w, "  #%-5d %-18s %-8s %s\n", m.Sequence, m.Field, m.Kind, formatScore(m.Score))
					}
				}
				for _, s := range report.Skipped {
					fmt.Fprintln(w, WarningStyle.Render("skipped: "+s))
				}
				printWarnings(w, report.Warnings)
			})
		},
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "list every scored validation")
	return cmd
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
