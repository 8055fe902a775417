// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/netutil"
)

// MatrixError is a non-2xx response from the homeserver. Callers use
// errors.As to inspect it:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeForbidden { ... }
//
// A response whose body is not a Matrix error object (a reverse proxy's
// 502 page, say) is still reported as a MatrixError with an empty Code
// and the start of the body as Message.
type MatrixError struct {
	// Code is the Matrix error code, e.g. "M_FORBIDDEN".
	Code string `json:"errcode"`
	// Message is the server's human-readable description.
	Message string `json:"error"`
	// SoftLogout is set on M_UNKNOWN_TOKEN when the session can be
	// recovered with a refresh token.
	SoftLogout bool `json:"soft_logout,omitempty"`
	// RetryAfterMs accompanies M_LIMIT_EXCEEDED.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("matrix: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden       = "M_FORBIDDEN"
	ErrCodeUnknownToken    = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken    = "M_MISSING_TOKEN"
	ErrCodeUserDeactivated = "M_USER_DEACTIVATED"
	ErrCodeNotFound        = "M_NOT_FOUND"
	ErrCodeLimitExceeded   = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown         = "M_UNKNOWN"
	ErrCodeInvalidParam    = "M_INVALID_PARAM"
	ErrCodeBadJSON         = "M_BAD_JSON"
)

// IsMatrixError reports whether err is a *MatrixError with the given
// code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsAuthError reports whether the homeserver rejected the request's
// credentials: a bad password, an unknown or revoked token, or a
// deactivated account.
func IsAuthError(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	switch matrixErr.Code {
	case ErrCodeUnknownToken, ErrCodeMissingToken, ErrCodeForbidden, ErrCodeUserDeactivated:
		return true
	}
	return matrixErr.StatusCode == http.StatusUnauthorized
}

// IsTransient reports whether err may succeed if the request is
// repeated: rate limiting, server-side 5xx failures, and transport
// errors such as refused connections and timeouts.
func IsTransient(err error) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == ErrCodeLimitExceeded ||
			matrixErr.StatusCode == http.StatusTooManyRequests ||
			matrixErr.StatusCode >= 500
	}
	return netutil.IsTransient(err)
}

// RetryAfter returns the delay the homeserver asked for on a rate
// limited request, or zero.
func RetryAfter(err error) time.Duration {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) && matrixErr.RetryAfterMs > 0 {
		return time.Duration(matrixErr.RetryAfterMs) * time.Millisecond
	}
	return 0
}
