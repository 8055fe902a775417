// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the example bot's configuration.
//
// Values are layered, lowest precedence first:
//
//  1. [Default]
//  2. a single YAML file, named by --config or MATRIX_BOT_CONFIG
//  3. MATRIX_BOT_* environment variables (e.g. MATRIX_BOT_MATRIX_USERNAME)
//  4. command-line flags, applied by the binary after [Load] returns
//
// There is no file discovery: with neither --config nor
// MATRIX_BOT_CONFIG set, only defaults and environment apply.
//
// ${HOME} and ${VAR:-default} patterns are expanded in path fields.
// The optional sync filter is a separate JSONC file (comments and
// trailing commas allowed) read by [LoadFilter].
package config
