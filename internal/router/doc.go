// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router turns raw triggers into persisted audit events.
//
// Route classifies a RawEvent by type into a typed payload, enriches commit
// events with git metadata, appends the event under the active session and
// then hands the stored event to the one handler registered for its type:
//
//	commit      -> audit log only
//	spend       -> spend.Calculator.Observe
//	validation  -> accuracy.Tracker.Observe
//	generic     -> audit log only (also the fallback for unknown types)
//
// Git lookups run before the append and outside the logger's critical
// section. A failed lookup never drops the event; it is stored with
// git_metadata set to "unavailable".
package router
