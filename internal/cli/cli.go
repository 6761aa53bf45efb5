// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the scout command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information, set at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	dir        string
	jsonOut    bool
	logLevel   string
	verbose    bool
}

// NewRootCommand builds the full command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(&app{out: out, errOut: errOut})
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scout",
		Short: "Scout - local audit trail for development activity",
		Long: `scout records development activity (git commits, spend, validation
results) in a rotating, append-only audit log and derives an hourly spend
rate and an accuracy score by replaying it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "config file path")
	pf.StringVar(&a.flags.dir, "dir", "", "audit log directory (overrides config)")
	pf.BoolVar(&a.flags.jsonOut, "json", false, "print machine-readable JSON")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (overrides config)")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "shorthand for --log-level=debug")

	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	rootCmd.AddCommand(
		newSessionCmd(a),
		newHookCmd(a),
		newRecordCmd(a),
		newSpendCmd(a),
		newAccuracyCmd(a),
		newStatusCmd(a),
		newSegmentsCmd(a),
		newVerifyCmd(a),
		newTailCmd(a),
		newServeCmd(a),
		newDoctorCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if jsonOut, _ := root.PersistentFlags().GetBool("json"); jsonOut {
			NewJSONErrorResponse(root.Name(), err).Print(os.Stdout)
		} else {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		}
		return 1
	}
	return 0
}
