// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the read-only HTTP API over the audit log.
//
// Endpoints:
//   - GET /health         - log directory readable
//   - GET /status         - full snapshot
//   - GET /session        - active session
//   - GET /spend          - hourly spend (?as_of=RFC3339)
//   - GET /spend/records  - spend records with running window totals (?from=&to=)
//   - GET /spend/hourly   - per-hour totals (?from=&to=)
//   - GET /accuracy       - accuracy report
//   - GET /segments       - segment listing
//   - GET /verify         - hash chain and sequence check
//   - GET /metrics        - Prometheus metrics
//
// No endpoint writes to the log.
package server
