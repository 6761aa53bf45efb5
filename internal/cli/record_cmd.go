// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// record_cmd.go - Manual event recording.
//
// Command: record <spend|validate|event>
// Short:   Record an event into the active session
//
// Examples:
//   scout record spend 12.50 --currency USD --source openai
//   scout record validate --field city --kind exact --expected Paris --actual Paris
//   scout record validate --field pos --kind location --expected 48.85,2.35 --actual 48.86,2.35
//   scout record event deploy env=staging version=1.4.2
package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/accuracy"
	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/money"
	"github.com/jeranaias/scout/internal/router"
)

func newRecordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an event into the active session",
	}
	cmd.AddCommand(newRecordSpendCmd(a), newRecordValidateCmd(a), newRecordEventCmd(a))
	return cmd
}

func newRecordSpendCmd(a *app) *cobra.Command {
	var currency, source, note, at string
	cmd := &cobra.Command{
		Use:   "spend AMOUNT",
		Short: "Record a cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := money.Parse(args[0])
			if err != nil {
				return err
			}
			if amount.Sign() < 0 {
				return fmt.Errorf("amount must not be negative: %s", args[0])
			}
			if currency == "" {
				currency = a.cfg.Spend.Currency
			}
			p := audit.SpendPayload{
				Amount:   amount,
				Currency: strings.ToUpper(currency),
				Source:   source,
				Note:     note,
			}
			return a.record(cmd, p, at)
		},
	}
	f := cmd.Flags()
	f.StringVar(&currency, "currency", "", "ISO currency code (default from config)")
	f.StringVar(&source, "source", "", "what incurred the cost")
	f.StringVar(&note, "note", "", "free-text note")
	f.StringVar(&at, "at", "", "event time (RFC3339, default now)")
	return cmd
}

func newRecordValidateCmd(a *app) *cobra.Command {
	var field, kind, expected, actual, at string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Record a validation result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := accuracy.ParseKind(kind)
			if err != nil {
				return err
			}
			exp, err := parseValue(k, expected)
			if err != nil {
				return fmt.Errorf("--expected: %w", err)
			}
			act, err := parseValue(k, actual)
			if err != nil {
				return fmt.Errorf("--actual: %w", err)
			}
			p := audit.ValidationPayload{Field: field, Kind: string(k), Expected: exp, Actual: act}
			return a.record(cmd, p, at)
		},
	}
	f := cmd.Flags()
	f.StringVar(&field, "field", "", "name of the validated field")
	f.StringVar(&kind, "kind", string(accuracy.KindExact), "comparison: exact, numeric or location")
	f.StringVar(&expected, "expected", "", "expected value")
	f.StringVar(&actual, "actual", "", "observed value")
	f.StringVar(&at, "at", "", "event time (RFC3339, default now)")
	cmd.MarkFlagRequired("field")
	return cmd
}

func newRecordEventCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "event NAME [KEY=VALUE...]",
		Short: "Record a free-form event",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseAttributes(args[1:])
			if err != nil {
				return err
			}
			return a.record(cmd, audit.GenericPayload{Name: args[0], Attributes: attrs}, at)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "event time (RFC3339, default now)")
	return cmd
}

// record routes p through a recorder and prints the stored event.
func (a *app) record(cmd *cobra.Command, p audit.Payload, at string) error {
	var ts time.Time
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		ts = t
	}
	raw, err := router.FromPayload(p, ts)
	if err != nil {
		return err
	}

	r, err := a.newRecorder(cmd.Context(), false, true)
	if err != nil {
		return err
	}
	defer r.Close()

	stored, err := r.router.Route(cmd.Context(), raw)
	if err != nil {
		return err
	}

	return a.emit("record "+string(stored.Type), stored, func(w io.Writer) {
		fmt.Fprintf(w, "%s Recorded %s event #%d in %s\n", RenderStatus("ok"),
			stored.Type, stored.Sequence, stored.SessionID)
		if m, ok := r.tracker.Last(); ok && stored.Type == audit.EventValidation {
			fmt.Fprintln(w, RenderField("Score:", HighlightStyle.Render(strconv.FormatFloat(m.Score, 'f', 3, 64))))
		}
	})
}

// parseValue reads a value for kind. Locations are "lat,lon".
func parseValue(kind accuracy.Kind, s string) (audit.Value, error) {
	switch kind {
	case accuracy.KindNumeric:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return audit.Value{}, fmt.Errorf("invalid number %q", s)
		}
		return audit.NumberValue(f), nil
	case accuracy.KindLocation:
		latS, lonS, ok := strings.Cut(s, ",")
		if !ok {
			return audit.Value{}, fmt.Errorf("location must be lat,lon: %q", s)
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(latS), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
		if err1 != nil || err2 != nil {
			return audit.Value{}, fmt.Errorf("invalid location %q", s)
		}
		return audit.LocationValue(lat, lon), nil
	}
	return audit.TextValue(s), nil
}

func parseAttributes(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	attrs := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("attribute must be KEY=VALUE: %q", arg)
		}
		attrs[k] = v
	}
	return attrs, nil
}
