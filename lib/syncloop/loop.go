// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/clock"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

// Defaults applied by Start to zero Config fields.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Syncer performs one /sync request. *messaging.DirectSession
// implements it.
type Syncer interface {
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
}

// Handler processes one sync response. Returning an error stops the
// loop without advancing the cursor.
type Handler func(ctx context.Context, response *messaging.SyncResponse) error

// Config controls the loop.
type Config struct {
	// Timeout is the server-side long-poll duration.
	Timeout time.Duration

	// Filter is passed through as the /sync filter parameter.
	Filter string

	// InitialBackoff is the first retry delay after a transient
	// failure. It doubles on each consecutive failure up to
	// MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxConsecutiveFailures ends the loop after that many transient
	// failures in a row. Zero retries forever.
	MaxConsecutiveFailures int

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Handle observes and controls a running loop.
type Handle struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns why the loop exited, or nil while it is running.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the loop exits or ctx ends and returns the loop's
// error. It returns ctx's error if ctx ends first.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the loop and waits for it to exit. A loop ended by Stop
// reports nil; any earlier failure is returned.
func (h *Handle) Stop() error {
	h.cancel()
	<-h.done
	if errors.Is(h.err, context.Canceled) {
		return nil
	}
	return h.err
}

// Start claims cursor and runs the loop in a new goroutine. It returns
// immediately. Cancelling ctx stops the loop with context.Canceled.
func Start(ctx context.Context, cfg Config, syncer Syncer, cursor *Cursor, handler Handler) (*Handle, error) {
	if syncer == nil || cursor == nil || handler == nil {
		return nil, fmt.Errorf("syncloop: syncer, cursor and handler are required")
	}
	if err := cursor.Claim(); err != nil {
		return nil, err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	handle := &Handle{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(handle.done)
		defer cancel()
		handle.err = run(loopCtx, cfg, syncer, cursor, handler)
		if errors.Is(handle.err, context.Canceled) {
			cfg.Logger.Info("sync loop stopped")
		} else {
			cfg.Logger.Error("sync loop terminated", "error", handle.err)
		}
	}()
	return handle, nil
}

func run(ctx context.Context, cfg Config, syncer Syncer, cursor *Cursor, handler Handler) error {
	backoff := cfg.InitialBackoff
	failures := 0
	timeoutMs := int(cfg.Timeout / time.Millisecond)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		since := cursor.Token()
		response, err := syncer.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    timeoutMs,
			SetTimeout: true,
			Filter:     cfg.Filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !messaging.IsTransient(err) {
				return fmt.Errorf("syncloop: %w", err)
			}
			failures++
			if cfg.MaxConsecutiveFailures > 0 && failures >= cfg.MaxConsecutiveFailures {
				return fmt.Errorf("syncloop: giving up after %d consecutive failures: %w", failures, err)
			}

			delay := backoff
			if retryAfter := messaging.RetryAfter(err); retryAfter > 0 {
				delay = retryAfter
			}
			cfg.Logger.Warn("sync failed, retrying",
				"error", err,
				"backoff", delay,
				"consecutive_failures", failures,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-cfg.Clock.After(delay):
			}
			backoff = min(backoff*2, cfg.MaxBackoff)
			continue
		}

		if failures > 0 {
			cfg.Logger.Info("sync recovered", "after_failures", failures)
		}
		failures = 0
		backoff = cfg.InitialBackoff

		if err := handler(ctx, response); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("syncloop: handling sync %s: %w", response.NextBatch, err)
		}
		cursor.set(response.NextBatch)
	}
}
