// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides layered configuration loading for scout.
//
// # Configuration Precedence
//
// Later layers override earlier ones:
//   - Built-in defaults
//   - ~/.scout/config.toml or ~/.scout/config.yaml
//   - .scout.toml or .scout.yaml in the project directory
//   - an explicit --config file
//   - .env in the project directory
//   - SCOUT_* environment variables
//
// Only basic sanity checks are applied; the core packages consume the
// result as read-only settings.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.Audit.Policy()
package config
