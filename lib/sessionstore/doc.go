// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstore persists a Matrix login to
// <storage_dir>/session.json.
//
// The file is the only state that decides between a fresh password
// login and resuming an existing device. It exists exactly when a
// login has succeeded for the directory, and is never observed half
// written: [Save] writes a temporary file in the same directory, syncs
// it, and renames it over the old one. The file is mode 0600 and the
// serialized bytes are zeroed once written or parsed.
//
// A file that exists but cannot be used is reported as [ErrCorrupt]
// rather than treated as absent, so a damaged session never silently
// turns into a new device.
package sessionstore
