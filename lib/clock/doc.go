// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The sync loop waits between failed requests with Clock.After rather
// than time.After, so tests can drive its backoff deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	// ... start the loop with fake ...
//	fake.WaitForTimers(1)      // loop is now sleeping
//	fake.Advance(time.Second)  // and now it retries
package clock
