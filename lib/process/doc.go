// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the bot binary's exit path: reporting an error
// from run() to stderr before the structured logger exists (or after
// it is closed) and choosing the exit status.
package process
