// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit implements the append-only, segmented audit log.
//
// # Layout
//
// A log directory holds numbered segment files and a manifest:
//
//	MANIFEST.json          closed segments, active generation, per-session sequence state
//	segment-00000001.jsonl closed
//	segment-00000002.jsonl active (the only file open for writes)
//	scout.lock             cross-process writer lock
//
// Each segment line is one JSON record:
//
//	{"session_id":"sess_...","sequence_no":3,"timestamp":"...","event_type":"commit",
//	 "payload":{...},"prev_hash":"...","hash":"..."}
//
// # Guarantees
//
//   - Append returns only after the record is written with a single write
//     and fsynced.
//   - sequence_no is assigned under the logger mutex: per session it is
//     strictly increasing and gapless.
//   - A record never spans two segments. Rotation closes the active file,
//     creates generation+1 exclusively and then atomically replaces the
//     manifest, which is the single pointer to the active generation.
//   - Readers replay segments in generation order. A truncated trailing
//     record or a malformed line is skipped and reported as a Warning.
//
// # Key Types
//
//   - Event, Payload and its variants (CommitPayload, SpendPayload,
//     ValidationPayload, GenericPayload)
//   - Logger: the single writer for a directory
//   - RotationPolicy: SizePolicy, CountPolicy, AgePolicy, AnyOf
//   - Replay: result of reading a set of segments
package audit
