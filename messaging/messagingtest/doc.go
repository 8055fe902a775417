// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messagingtest runs an in-process fake Matrix homeserver for
// tests. It implements the client-server endpoints the messaging
// package calls (login, whoami, sync, send, receipt, join, refresh,
// versions) against in-memory state, and records every login, send
// and sync so tests can assert on the traffic.
//
// The fake is deliberately permissive about request shapes it does
// not inspect, and strict about the ones the bootstrap protocol
// depends on: tokens, passwords, device IDs and the since cursor.
package messagingtest
