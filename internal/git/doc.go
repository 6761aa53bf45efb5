// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package git supplies commit metadata to the audit core.
//
// The core depends only on the Analyzer interface. ExecAnalyzer implements
// it by running the git binary with a bounded context; tests substitute
// fakes.
package git
