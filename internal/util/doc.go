// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small filesystem and string helpers shared by the
// scout packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe replace of a small file (manifest, session state)
//   - SyncDir: fsync a directory so a create or rename survives a crash
//
// String Utilities:
//   - TruncateWidth: display-width aware truncation for terminal output
//
// # Usage
//
//	// Publish a new manifest; readers see the old or the new one, never a mix
//	err := util.AtomicWriteFile(path, data, 0644)
package util
