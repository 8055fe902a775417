// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds passwords and access tokens outside the Go heap.
//
// A [Buffer] is an anonymous mmap region, locked against swap and
// excluded from core dumps. Close zeroes and unmaps it; any read after
// Close panics. The bootstrapper receives the account password as a
// Buffer and only converts it to a string at the moment the login
// request body is built.
//
// [Zero] scrubs ordinary heap slices (decoded session files, request
// bodies) once their contents are no longer needed.
package secret
