// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// recorder captures Fatalf instead of stopping the goroutine, so the
// failure paths can be checked.
type recorder struct {
	failed  bool
	message string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
	panic(r)
}

func expectFailure(t *testing.T, contains string, run func(*recorder)) {
	t.Helper()
	rec := &recorder{}
	func() {
		defer func() {
			if recovered := recover(); recovered != nil && recovered != rec {
				panic(recovered)
			}
		}()
		run(rec)
	}()
	if !rec.failed {
		t.Fatal("helper did not fail")
	}
	if !strings.Contains(rec.message, contains) {
		t.Errorf("failure message %q does not contain %q", rec.message, contains)
	}
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 42
	if got := RequireReceive(t, ch, time.Second, "value"); got != 42 {
		t.Errorf("RequireReceive = %d, want 42", got)
	}

	expectFailure(t, "waiting for room-1", func(rec *recorder) {
		RequireReceive(rec, make(chan int), time.Millisecond, "waiting for %s", "room-1")
	})

	closed := make(chan int)
	close(closed)
	expectFailure(t, "channel closed", func(rec *recorder) {
		RequireReceive(rec, closed, time.Second)
	})
}

func TestRequireSendAndClosed(t *testing.T) {
	ch := make(chan string, 1)
	RequireSend(t, ch, "hello", time.Second)
	if <-ch != "hello" {
		t.Error("value not delivered")
	}
	expectFailure(t, "timed out", func(rec *recorder) {
		RequireSend(rec, make(chan string), "blocked", time.Millisecond)
	})

	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, time.Second)
	expectFailure(t, "waiting for close", func(rec *recorder) {
		RequireClosed(rec, make(chan struct{}), time.Millisecond, "loop exit")
	})
}

func TestUniqueID(t *testing.T) {
	first := UniqueID("txn")
	second := UniqueID("txn")
	if first == second {
		t.Errorf("UniqueID returned %q twice", first)
	}
	if !strings.HasPrefix(first, "txn-") {
		t.Errorf("UniqueID = %q, want txn- prefix", first)
	}
}
