// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds HTTP response helpers and network error
// classification shared by the Matrix client and the sync loop.
//
// Response helpers bound every body read at [MaxResponseSize] so a
// misbehaving homeserver cannot exhaust memory. [IsTransient] decides
// whether a transport-level failure is worth retrying.
package netutil
