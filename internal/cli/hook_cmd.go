// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/git"
	"github.com/jeranaias/scout/internal/router"
)

func newHookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Git hook integration",
	}

	var force bool
	install := &cobra.Command{
		Use:   "install",
		Short: "Install the post-commit hook in the current repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHookInstall(cmd, force)
		},
	}
	install.Flags().BoolVar(&force, "force", false, "replace an existing post-commit hook")

	commit := &cobra.Command{
		Use:   "commit",
		Short: "Record the HEAD commit (run by the post-commit hook)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHookCommit(cmd)
		},
	}

	cmd.AddCommand(install, commit)
	return cmd
}

func (a *app) runHookCommit(cmd *cobra.Command) error {
	r, err := a.newRecorder(cmd.Context(), true, true)
	if err != nil {
		return err
	}
	defer r.Close()

	stored, err := r.router.Route(cmd.Context(), router.RawEvent{Type: string(audit.EventCommit)})
	if err != nil {
		return err
	}
	c, _ := stored.Payload.(audit.CommitPayload)
	if c.GitMetadata == audit.GitMetadataUnavailable {
		log.WithField("git_error", c.GitError).Warn("Commit recorded without full git metadata")
	}

	return a.emit("hook commit", stored, func(w io.Writer) {
		hash := c.CommitHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(w, "scout: recorded commit %s (#%d)\n", hash, stored.Sequence)
	})
}

func (a *app) runHookInstall(cmd *cobra.Command, force bool) error {
	g, err := a.analyzer()
	if err != nil {
		return err
	}
	if _, err := git.CheckMinimum(cmd.Context(), g, a.cfg.Git.MinVersion); err != nil {
		return err
	}
	hooks, err := g.HooksDir(cmd.Context())
	if err != nil {
		return fmt.Errorf("not a git repository: %w", err)
	}
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate scout binary: %w", err)
	}

	path, err := git.InstallHook(hooks, binary, force)
	if errors.Is(err, git.ErrForeignHook) {
		return fmt.Errorf("%w (use --force to replace it)", err)
	}
	if err != nil {
		return err
	}

	result := map[string]string{"hook": path, "binary": binary}
	return a.emit("hook install", result, func(w io.Writer) {
		fmt.Fprintf(w, "%s Installed post-commit hook at %s\n", RenderStatus("ok"), path)
	})
}
