// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package money provides an exact decimal amount type for spend events.
//
// Amounts are stored and summed as base-10 decimals so that replaying the
// same log always yields the same totals, independent of float rounding.
// Decimals encode to JSON as strings ("12.50") and are accepted from
// either JSON strings or numbers.
package money
