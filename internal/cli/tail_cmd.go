// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/router"
	"github.com/jeranaias/scout/internal/util"
)

func newTailCmd(a *app) *cobra.Command {
	var fromStart bool
	var only string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow events as they are appended to the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter audit.EventType
			if only != "" {
				filter, _ = router.ClassifyType(only)
			}
			return audit.Follow(cmd.Context(), a.cfg.Audit.Dir, fromStart, func(e audit.Event) {
				if filter != "" && e.Type != filter {
					return
				}
				a.printEvent(a.out, e)
			})
		},
	}
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "print existing events first")
	cmd.Flags().StringVar(&only, "type", "", "only show events of this type")
	return cmd
}

// printEvent writes e as one JSON line with --json, otherwise as a summary.
func (a *app) printEvent(w io.Writer, e audit.Event) {
	if a.flags.jsonOut {
		data, err := json.Marshal(e)
		if err == nil {
			fmt.Fprintln(w, string(data))
		}
		return
	}
	fmt.Fprintf(w, "%s %s #%-5d %-10s %s\n",
		DimStyle.Render(e.Timestamp.Format("2006-01-02T15:04:05Z07:00")),
		e.SessionID, e.Sequence, e.Type, util.TruncateWidth(util.SingleLine(summarize(e.Payload)), summaryWidth))
}

// summaryWidth caps the payload summary of one tail line.
const summaryWidth = 80

func summarize(p audit.Payload) string {
	switch v := p.(type) {
	case audit.CommitPayload:
		hash := v.CommitHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		s := fmt.Sprintf("%s on %s (%d files) %s", hash, v.Branch, len(v.ChangedFiles), v.Message)
		if v.GitMetadata == audit.GitMetadataUnavailable {
			s = "[git unavailable] " + s
		}
		return s
	case audit.SpendPayload:
		return strings.TrimSpace(fmt.Sprintf("%s %s %s", v.Amount.String(), v.Currency, v.Source))
	case audit.ValidationPayload:
		return fmt.Sprintf("%s (%s)", v.Field, v.Kind)
	case audit.GenericPayload:
		keys := make([]string, 0, len(v.Attributes))
		for k := range v.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := []string{v.Name}
		for _, k := range keys {
			parts = append(parts, k+"="+v.Attributes[k])
		}
		return strings.Join(parts, " ")
	}
	return ""
}
