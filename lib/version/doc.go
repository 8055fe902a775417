// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the bot binary.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] can be injected
// with -ldflags -X. When they are not, the VCS stamp recorded by the
// Go toolchain (runtime/debug.ReadBuildInfo) fills in the commit and
// time, so plain "go build" output still identifies its source.
//
//   - [Info]: "0.1.0-dev (abc1234, 2026-02-10T...)" for --version
//   - [Full]: Info plus Go version and GOOS/GOARCH
//   - [Print]: the --version output for a named binary
package version
