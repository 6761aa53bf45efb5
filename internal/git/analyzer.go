// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"
)

// Analyzer answers questions about the commit being audited.
type Analyzer interface {
	ChangedFiles(ctx context.Context) ([]string, error)
	Version(ctx context.Context) (string, error)
	CommitHash(ctx context.Context) (string, error)
}

// Describer is implemented by analyzers that can also report the branch
// and commit subject.
type Describer interface {
	Branch(ctx context.Context) (string, error)
	Subject(ctx context.Context) (string, error)
}

// CommitInfo is the metadata attached to a commit event.
type CommitInfo struct {
	Hash    string
	Branch  string
	Subject string
	Files   []string
	Version string
}

// Describe gathers commit metadata. It returns whatever it could collect
// along with the joined errors of the lookups that failed.
func Describe(ctx context.Context, a Analyzer) (CommitInfo, error) {
	var info CommitInfo
	var errs []error

	hash, err := a.CommitHash(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("commit hash: %w", err))
	}
	info.Hash = hash

	files, err := a.ChangedFiles(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("changed files: %w", err))
	}
	info.Files = files

	v, err := a.Version(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("git version: %w", err))
	}
	info.Version = v

	if d, ok := a.(Describer); ok {
		if info.Branch, err = d.Branch(ctx); err != nil {
			errs = append(errs, fmt.Errorf("branch: %w", err))
		}
		if info.Subject, err = d.Subject(ctx); err != nil {
			errs = append(errs, fmt.Errorf("subject: %w", err))
		}
	}
	return info, errors.Join(errs...)
}

// =============================================================================
// EXEC ANALYZER
// =============================================================================

// DefaultTimeout bounds each git invocation.
const DefaultTimeout = 5 * time.Second

// ExecAnalyzer runs the git binary in Dir against revision Rev.
type ExecAnalyzer struct {
	Dir     string
	Rev     string
	Binary  string
	Timeout time.Duration

	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewExecAnalyzer returns an analyzer for HEAD of the repository at dir.
func NewExecAnalyzer(dir string) *ExecAnalyzer {
	return &ExecAnalyzer{Dir: dir, Rev: "HEAD", Binary: "git", Timeout: DefaultTimeout}
}

func (a *ExecAnalyzer) rev() string {
	if a.Rev == "" {
		return "HEAD"
	}
	return a.Rev
}

func (a *ExecAnalyzer) git(ctx context.Context, args ...string) (string, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := a.run
	if run == nil {
		run = a.exec
	}
	out, err := run(ctx, args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", args[0], ctx.Err())
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (a *ExecAnalyzer) exec(ctx context.Context, args ...string) ([]byte, error) {
	bin := a.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = a.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

// ChangedFiles lists the paths touched by the commit.
func (a *ExecAnalyzer) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := a.git(ctx, "diff-tree", "--no-commit-id", "--name-only", "-r", "--root", a.rev())
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// CommitHash returns the full hash of the commit.
func (a *ExecAnalyzer) CommitHash(ctx context.Context) (string, error) {
	return a.git(ctx, "rev-parse", a.rev())
}

// Version returns the normalized version of the git binary, e.g. "2.43.0".
func (a *ExecAnalyzer) Version(ctx context.Context) (string, error) {
	out, err := a.git(ctx, "--version")
	if err != nil {
		return "", err
	}
	v, err := ParseVersion(out)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// Branch returns the current branch name.
func (a *ExecAnalyzer) Branch(ctx context.Context) (string, error) {
	return a.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Subject returns the first line of the commit message.
func (a *ExecAnalyzer) Subject(ctx context.Context) (string, error) {
	return a.git(ctx, "log", "-1", "--format=%s", a.rev())
}

// HooksDir returns the repository's hooks directory.
func (a *ExecAnalyzer) HooksDir(ctx context.Context) (string, error) {
	return a.git(ctx, "rev-parse", "--path-format=absolute", "--git-path", "hooks")
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// =============================================================================
// VERSION
// =============================================================================

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// ParseVersion extracts the version from `git --version` output such as
// "git version 2.39.3 (Apple Git-146)".
func ParseVersion(out string) (*version.Version, error) {
	m := versionPattern.FindString(out)
	if m == "" {
		return nil, fmt.Errorf("unrecognized git version output %q", strings.TrimSpace(out))
	}
	return version.NewVersion(m)
}

// CheckMinimum fails when the analyzer's git is older than min.
func CheckMinimum(ctx context.Context, a Analyzer, min string) (string, error) {
	have, err := a.Version(ctx)
	if err != nil {
		return "", err
	}
	hv, err := version.NewVersion(have)
	if err != nil {
		return have, err
	}
	constraint, err := version.NewConstraint(">= " + min)
	if err != nil {
		return have, err
	}
	if !constraint.Check(hv) {
		return have, fmt.Errorf("git %s is older than required %s", have, min)
	}
	return have, nil
}
