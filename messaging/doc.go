// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a small Matrix client-server API client: the
// endpoints a bot needs to log in, stay logged in, sync, and answer
// messages.
//
// [Client] is unauthenticated. It holds the homeserver URL, the HTTP
// transport, and an optional send rate limiter shared by every session
// derived from it. [Client.Login] performs a password login and
// [Client.SessionFromToken] restores a session from stored
// credentials; both return a [DirectSession].
//
// A DirectSession keeps its access and refresh tokens in mmap-backed
// [secret.Buffer] memory. When the homeserver reports a soft logout
// (M_UNKNOWN_TOKEN with soft_logout set) and a refresh token is held,
// the failed request is retried once after a token refresh and the
// callback registered with [DirectSession.OnTokenRefresh] receives the
// new credentials so they can be persisted.
//
// Every non-2xx response is returned as a [*MatrixError] carrying the
// Matrix error code and HTTP status. [IsAuthError] and [IsTransient]
// classify them for the bootstrap and sync code.
//
// Incoming m.room.message events are decoded by [ParseMessage] into a
// closed set of variants ([TextMessage], [MediaMessage],
// [OtherMessage]) so handlers switch on the type rather than probing
// content maps.
package messaging
