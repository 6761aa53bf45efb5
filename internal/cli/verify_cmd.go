// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/audit"
)

// ErrIntegrity is returned by verify when the log has problems.
var ErrIntegrity = errors.New("audit log failed verification")

// verifyResult is the JSON body of the verify command.
type verifyResult struct {
	Dir      string          `json:"dir"`
	Events   int             `json:"events"`
	Segments int             `json:"segments"`
	OK       bool            `json:"ok"`
	Problems []audit.Problem `json:"problems,omitempty"`
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the hash chain and sequence continuity of the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			replay, problems, err := audit.VerifyDir(a.cfg.Audit.Dir)
			if err != nil {
				return err
			}
			res := verifyResult{
				Dir:      a.cfg.Audit.Dir,
				Events:   len(replay.Events),
				Segments: len(replay.Segments),
				OK:       len(problems) == 0,
				Problems: problems,
			}

			if err := a.emit("verify", res, func(w io.Writer) {
				if res.OK {
					fmt.Fprintf(w, "%s %d events in %d segments verified\n", RenderStatus("ok"), res.Events, res.Segments)
					return
				}
				fmt.Fprintf(w, "%s %d problem(s) in %d events\n", RenderStatus("fail"), len(problems), res.Events)
				for _, p := range problems {
					fmt.Fprintln(w, "  "+p.String())
				}
			}); err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("%w: %d problem(s)", ErrIntegrity, len(problems))
			}
			return nil
		},
	}
}
