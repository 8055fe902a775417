// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests never call
// time.After themselves; a broken goroutine fails the test instead of
// hanging it. [UniqueID] produces distinguishable message bodies and
// transaction IDs without reading the wall clock.
//
// All helpers call t.Fatalf on failure.
package testutil
