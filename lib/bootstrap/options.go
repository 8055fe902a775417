// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/clock"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/secret"
)

// Credentials identify the account. Password is only read when a
// password login is needed; the caller keeps ownership of it.
type Credentials struct {
	// Username is the full Matrix user ID, "@localpart:server".
	Username string
	Password *secret.Buffer
}

// ResumePolicy decides what New does when a stored session's token is
// rejected by the homeserver.
type ResumePolicy int

const (
	// ResumeStrict fails with KindAuth and leaves session.json alone.
	ResumeStrict ResumePolicy = iota
	// ResumeFallbackToPassword logs in again with the password,
	// reusing the stored device ID, and overwrites session.json.
	ResumeFallbackToPassword
)

func (p ResumePolicy) String() string {
	switch p {
	case ResumeStrict:
		return "strict"
	case ResumeFallbackToPassword:
		return "fallback-to-password"
	default:
		return "unknown"
	}
}

// Options configure New. StorageDir is required.
type Options struct {
	// DeviceName is the display name of a newly created device.
	DeviceName string

	// StorageDir holds session.json and the local store.
	StorageDir string

	// HomeserverURL overrides both the stored URL and discovery.
	HomeserverURL string

	ResumePolicy ResumePolicy

	// HTTPClient is used for discovery and every API call. Defaults
	// to http.DefaultClient.
	HTTPClient *http.Client

	// SendLimiter throttles outgoing events when set.
	SendLimiter *rate.Limiter

	// SyncFilter is an inline JSON filter for every /sync.
	SyncFilter json.RawMessage

	// SyncTimeout is the background long-poll duration. Defaults to
	// 30s.
	SyncTimeout time.Duration

	// MaxBackoff caps the retry delay after transient sync failures.
	MaxBackoff time.Duration

	// MaxConsecutiveFailures ends the background loop after that many
	// transient failures in a row. Zero retries forever.
	MaxConsecutiveFailures int

	// Clock drives the background loop's backoff.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}
