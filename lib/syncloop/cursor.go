// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncloop

import (
	"errors"
	"sync"
)

// ErrAlreadyClaimed is returned when a cursor already belongs to a
// running loop.
var ErrAlreadyClaimed = errors.New("syncloop: cursor already claimed by a sync loop")

// Cursor holds the next_batch token. The mutex is held only for the
// read or replace, never across network I/O.
type Cursor struct {
	mu      sync.Mutex
	token   string
	claimed bool
}

// NewCursor returns a cursor starting at token.
func NewCursor(token string) *Cursor {
	return &Cursor{token: token}
}

// Token returns the current token.
func (c *Cursor) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Claimed reports whether a loop owns the cursor.
func (c *Cursor) Claimed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed
}

// Claim takes ownership of the cursor. It succeeds once.
func (c *Cursor) Claim() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed {
		return ErrAlreadyClaimed
	}
	c.claimed = true
	return nil
}

// SetUnclaimed replaces the token unless a loop has claimed the
// cursor. Used by foreground syncs.
func (c *Cursor) SetUnclaimed(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed {
		return ErrAlreadyClaimed
	}
	c.token = token
	return nil
}

// set replaces the token on behalf of the owning loop.
func (c *Cursor) set(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}
