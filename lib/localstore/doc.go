// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore persists the client's view of its rooms between
// runs: the sync cursor, per-room membership, current room state, and
// a bounded tail of each room's timeline.
//
// The store is a single SQLite database (state.db) under the
// directory given to [Open], accessed through [sqlitepool]. A sync
// response is applied by [Store.ApplySync] in one immediate
// transaction together with its next_batch token, so after a crash the
// cursor never runs ahead of the data it describes.
//
// Event rows hold a one-byte encoding tag followed by the event in
// CBOR (see [codec]), zstd-compressed when that makes the row smaller.
//
// A store is bound to one account. Open records a keyed BLAKE3
// fingerprint of the user ID on first use and refuses to open the
// database for any other user, which catches a storage directory
// being reused with different credentials.
package localstore
