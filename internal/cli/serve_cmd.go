// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve_cmd.go - Read-only HTTP API.
//
// Command: serve
// Short:   Serve status, spend, accuracy and metrics over HTTP
//
// Examples:
//   scout serve
//   scout serve --addr 127.0.0.1:9000
//   SCOUT_SERVER_TOKEN=secret scout serve
//
// The server never takes the writer lock; hooks and record commands keep
// appending while it runs. Appends are followed to feed /metrics.
package cli

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/metrics"
	"github.com/jeranaias/scout/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve status, spend, accuracy and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			if err := os.MkdirAll(a.cfg.Audit.Dir, 0700); err != nil {
				return err
			}

			m := metrics.New()
			collector, closeCache, err := a.statusCollector()
			if err != nil {
				return err
			}
			defer closeCache()
			collector.Observer = m

			srv := server.New(server.Config{
				Dir:       a.cfg.Audit.Dir,
				Status:    collector,
				Spend:     collector.Spend,
				Accuracy:  collector.Accuracy,
				Metrics:   m.Handler(),
				RateLimit: a.cfg.Server.RateLimit,
				RateBurst: a.cfg.Server.RateBurst,
				Token:     a.cfg.Server.Token,
			})

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return srv.Start(ctx, addr)
			})
			g.Go(func() error {
				observeActive(a.cfg.Audit.Dir, m)
				return audit.Follow(ctx, a.cfg.Audit.Dir, false, func(e audit.Event) {
					m.ObserveAppend(e)
					observeActive(a.cfg.Audit.Dir, m)
				})
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// observeActive publishes the generation and size of the active segment.
func observeActive(dir string, m *metrics.Collector) {
	segs, err := audit.LoadSnapshot(dir)
	if err != nil || len(segs) == 0 {
		return
	}
	active := segs[len(segs)-1]
	fi, err := os.Stat(active.Path)
	if err != nil {
		log.WithError(err).Debug("active segment not readable")
		return
	}
	active.SizeBytes = fi.Size()
	m.ObserveSegment(active)
}
