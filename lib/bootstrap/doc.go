// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap turns a username, a password and a storage
// directory into a logged-in, caught-up Matrix client.
//
// [New] runs the whole startup sequence and either returns a ready
// [Client] or a typed [*Error] saying which step failed:
//
//  1. Parse the user ID. Nothing touches the disk or network before
//     this succeeds.
//  2. Create the storage directory and load session.json from it.
//  3. Resolve the homeserver (explicit override, the URL stored in the
//     session, or .well-known discovery) and open the local store.
//  4. Resume the stored session, checking the token with whoami and
//     without sending the password, or log in with the password when
//     there is no session yet. What happens when a stored token has
//     been revoked is chosen by [ResumePolicy].
//  5. Write session.json atomically.
//  6. Run one non-blocking catch-up sync from the stored cursor and
//     apply it to the local store.
//
// The returned client's cursor is always populated. Message callbacks
// registered with [Client.OnMessage] see only events delivered by the
// background loop that [Client.StartBackgroundSync] starts; the
// catch-up round fills the local store but is not dispatched, so a
// restarted bot does not answer history.
//
// Refreshed tokens are written back to session.json as they arrive.
package bootstrap
