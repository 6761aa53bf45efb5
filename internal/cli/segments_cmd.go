// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/status"
)

func newSegmentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "List, rotate or prune audit log segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSegmentsList()
		},
	}

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest closed segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLog(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer l.Close()

			removed, err := l.Prune(keep)
			if err != nil {
				return err
			}
			log.WithField("removed", len(removed)).Info("Pruned audit segments")
			return a.emit("segments prune", removed, func(w io.Writer) {
				if len(removed) == 0 {
					fmt.Fprintln(w, DimStyle.Render("Nothing to prune."))
					return
				}
				for _, s := range removed {
					fmt.Fprintf(w, "%s removed %s\n", RenderStatus("ok"), filepath.Base(s.Path))
				}
			})
		},
	}
	prune.Flags().IntVar(&keep, "keep", 10, "closed segments to keep")

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Close the active segment and start a new one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLog(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer l.Close()

			if err := l.Rotate(); err != nil {
				return err
			}
			segs := l.Snapshot()
			active := segs[len(segs)-1]
			return a.emit("segments rotate", active, func(w io.Writer) {
				fmt.Fprintf(w, "%s now writing %s\n", RenderStatus("ok"), filepath.Base(active.Path))
			})
		},
	}

	cmd.AddCommand(prune, rotate)
	return cmd
}

func (a *app) runSegmentsList() error {
	snap, err := audit.LoadSnapshot(a.cfg.Audit.Dir)
	if err != nil {
		return err
	}
	segs, totals := status.Describe(snap)
	data := map[string]any{"segments": segs, "totals": totals}
	return a.emit("segments", data, func(w io.Writer) {
		if len(segs) == 0 {
			fmt.Fprintln(w, DimStyle.Render("No segments yet."))
			return
		}
		fmt.Fprintf(w, "%-20s %8s %10s %8s  %s\n", "SEGMENT", "EVENTS", "SIZE", "STATE", "CREATED")
		for _, s := range segs {
			state := "closed"
			if !s.Closed() {
				state = "active"
			}
			created := "-"
			if !s.CreatedAt.IsZero() {
				created = humanize.Time(s.CreatedAt)
			}
			fmt.Fprintf(w, "%-20s %8d %10s %8s  %s\n", filepath.Base(s.Path), s.EventCount,
				humanize.Bytes(uint64(s.SizeBytes)), state, created)
		}
		fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%d segments, %s events, %s",
			totals.Segments, humanize.Comma(int64(totals.Events)), humanize.Bytes(uint64(totals.SizeBytes)))))
	})
}
