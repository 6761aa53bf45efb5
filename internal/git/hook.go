// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package git

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// hookMarker identifies hooks written by InstallHook.
const hookMarker = "# installed by scout"

// HookScript returns a post-commit hook that records the commit.
func HookScript(binary string) string {
	return fmt.Sprintf("#!/bin/sh\n%s\n%s hook commit || true\n", hookMarker, shellQuote(binary))
}

// shellQuote single-quotes s for sh; nothing inside single quotes expands.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ErrForeignHook is returned when a post-commit hook not written by scout
// already exists.
var ErrForeignHook = errors.New("a post-commit hook already exists")

// InstallHook writes the post-commit hook into hooksDir. An existing
// scout hook is replaced; any other hook is left alone unless force is set.
func InstallHook(hooksDir, binary string, force bool) (string, error) {
	path := filepath.Join(hooksDir, "post-commit")
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if !force && !bytes.Contains(existing, []byte(hookMarker)) {
			return path, fmt.Errorf("%w: %s", ErrForeignHook, path)
		}
	case !errors.Is(err, os.ErrNotExist):
		return path, err
	}

	if err := os.MkdirAll(hooksDir, 0755); err != nil {
		return path, err
	}
	if err := os.WriteFile(path, []byte(HookScript(binary)), 0755); err != nil {
		return path, fmt.Errorf("failed to write hook: %w", err)
	}
	return path, nil
}

// HookInstalled reports whether hooksDir holds a scout post-commit hook.
func HookInstalled(hooksDir string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(hooksDir, "post-commit"))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Contains(data, []byte(hookMarker)), nil
}
