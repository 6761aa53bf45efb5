// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package spend derives spend figures from the audit log.
//
// Every figure is computed by replaying spend events; nothing here is
// ground truth. Closed segments never change, so their extracted spend
// entries may be cached (in memory or in SQLite) keyed by segment
// identity. The active segment is always re-read up to its snapshot size.
//
// # Windows
//
// HourlySpend(asOf) covers the last complete UTC hour before asOf:
// [floor(asOf) - 1h, floor(asOf)). For asOf = 10:00 or 10:30 that is
// [09:00, 10:00).
package spend
