// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Beacon nodes.
//
// Configuration is loaded from a single YAML file specified by:
//   - the BEACON_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This keeps a node's
// configuration deterministic and auditable: what the file says is
// what the node runs with, and nothing else.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when the environment
// matches.
package config
