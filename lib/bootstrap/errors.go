// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"errors"
	"fmt"
)

// Kind classifies a bootstrap failure. Kinds are themselves errors so
// callers can write errors.Is(err, bootstrap.KindAuth).
type Kind int

const (
	// KindInvalidIdentity: the username is not a valid Matrix user ID.
	KindInvalidIdentity Kind = iota + 1
	// KindIO: the storage directory or session file could not be
	// created, read or written.
	KindIO
	// KindCorruptSession: session.json exists but is unusable.
	KindCorruptSession
	// KindClientInit: the homeserver could not be resolved or reached,
	// or the client or local store could not be constructed.
	KindClientInit
	// KindAuth: the homeserver rejected the credentials.
	KindAuth
	// KindSync: the catch-up sync failed.
	KindSync
)

func (k Kind) String() string {
	switch k {
	case KindInvalidIdentity:
		return "invalid identity"
	case KindIO:
		return "storage I/O"
	case KindCorruptSession:
		return "corrupt session"
	case KindClientInit:
		return "client initialization"
	case KindAuth:
		return "authentication"
	case KindSync:
		return "sync"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) Error() string {
	return "bootstrap: " + k.String()
}

// Error is a failure of one bootstrap step.
type Error struct {
	Kind Kind
	// Op names the step, e.g. "load session".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bootstrap: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's Kind.
func (e *Error) Is(target error) bool {
	kind, ok := target.(Kind)
	return ok && kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var bootstrapErr *Error
	if errors.As(err, &bootstrapErr) {
		return bootstrapErr.Kind
	}
	return 0
}

// ErrSyncStarted is returned by InitialSync and StartBackgroundSync
// once the background loop owns the sync cursor.
var ErrSyncStarted = errors.New("bootstrap: background sync already started")

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
