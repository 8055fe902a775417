// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable references for the
// Matrix identifiers the bootstrap code handles: user IDs, server
// names, device IDs, room IDs, event IDs, and event types.
//
// Every constructor validates its input at the boundary and returns an
// error for malformed identifiers, so code holding a ref never has to
// re-check structure. Parsing is purely syntactic: no network or
// filesystem access is performed, which is what lets the bootstrapper
// reject a bad username before it touches the storage directory.
//
// All types implement encoding.TextMarshaler and TextUnmarshaler so
// they serialize as their canonical string form in JSON and CBOR.
package ref
