// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncloop runs the incremental /sync long-poll loop in the
// background and reports how it ended.
//
// The loop reads its starting point from a [Cursor] and owns that
// cursor for as long as it runs: [Start] consumes the cursor's
// one-shot claim, so a second loop (or a foreground catch-up sync)
// cannot race it. Each successful round hands the response to the
// [Handler] and only then advances the cursor, so a round the handler
// rejects is never skipped.
//
// Transient failures (transport errors, HTTP 5xx, rate limiting) are
// retried with exponential backoff on the configured clock. Anything
// else ends the loop, and the [Handle] reports the error.
package syncloop
