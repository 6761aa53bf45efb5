// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session issues audit session identifiers and tracks session
// lifetime.
//
// A session is one bounded audit run. Every audit event is stamped with
// the ID of the session that was active when it was recorded.
//
// # Key Types
//
//   - Session: immutable value describing one run (ID, start, end)
//   - Manager: owns the single active session of a process
//   - FileStore: persists the latest session so that short-lived
//     processes (git hooks) attach to the same run, and ending it twice
//     from different processes keeps the first end time
//
// # Usage
//
//	mgr := session.NewManager(session.Config{Store: session.NewFileStore(path)})
//	s, err := mgr.StartOrResume()
//	if err != nil {
//	    // ID generation failed; do not retry silently
//	}
//	defer mgr.End(s)
//
// # Identifiers
//
// IDs are "sess_" followed by a UUIDv7: a 48-bit millisecond timestamp
// plus 74 random bits. Two sessions started in the same clock tick, in
// the same or different processes, do not collide.
package session
