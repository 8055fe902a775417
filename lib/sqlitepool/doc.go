// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite's connection pool
// with the pragmas the local state store relies on: WAL journaling so
// lookups from message handlers never block behind the sync loop's
// write transaction, and a busy timeout so the two never fail with
// SQLITE_BUSY.
//
// Callers either Take/Put connections directly or use [Pool.With],
// which returns the connection even when the callback panics.
package sqlitepool
