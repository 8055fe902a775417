// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/localstore"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/sessionstore"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/syncloop"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

// SyncHandle observes the background sync loop.
type SyncHandle = syncloop.Handle

// MessageEvent is an incoming m.room.message delivered by the
// background loop.
type MessageEvent struct {
	RoomID         ref.RoomID
	EventID        ref.EventID
	Sender         ref.UserID
	OriginServerTS int64
	Message        messaging.Message
	Raw            messaging.Event
}

// MessageHandler is called once per message, in server order, on the
// sync goroutine. A slow handler delays the next sync round.
type MessageHandler func(ctx context.Context, event MessageEvent, room *Room)

// Client is an authenticated Matrix client with a local store and a
// sync cursor. It is safe for concurrent use.
type Client struct {
	session       *messaging.DirectSession
	userID        ref.UserID
	homeserverURL string
	storageDir    string
	store         *localstore.Store
	cursor        *syncloop.Cursor
	options       Options
	logger        *slog.Logger

	// syncMu serializes InitialSync with StartBackgroundSync.
	syncMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   []MessageHandler

	// saveMu serializes session.json writes from token refreshes.
	saveMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Session returns the authenticated protocol session.
func (c *Client) Session() *messaging.DirectSession { return c.session }

// UserID returns the logged-in user.
func (c *Client) UserID() ref.UserID { return c.userID }

// DeviceID returns the session's device.
func (c *Client) DeviceID() ref.DeviceID { return c.session.DeviceID() }

// HomeserverURL returns the resolved homeserver base URL.
func (c *Client) HomeserverURL() string { return c.homeserverURL }

// SyncToken returns the current sync cursor.
func (c *Client) SyncToken() string { return c.cursor.Token() }

// Store returns the local store.
func (c *Client) Store() *localstore.Store { return c.store }

// Room returns a handle for sending to roomID.
func (c *Client) Room(roomID ref.RoomID) *Room {
	return &Room{id: roomID, session: c.session, store: c.store}
}

// OnMessage registers handler for messages delivered by the
// background loop. Handlers may be added before or after the loop
// starts and run in registration order.
func (c *Client) OnMessage(handler MessageHandler) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, handler)
	c.handlersMu.Unlock()
}

// InitialSync runs another catch-up round from the current cursor. It
// fails with ErrSyncStarted once the background loop owns the cursor.
func (c *Client) InitialSync(ctx context.Context) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	if c.cursor.Claimed() {
		return ErrSyncStarted
	}
	if err := c.catchUp(ctx); err != nil {
		if errors.Is(err, syncloop.ErrAlreadyClaimed) {
			return ErrSyncStarted
		}
		return newError(KindSync, "catch-up sync", err)
	}
	return nil
}

// StartBackgroundSync starts the long-poll loop and returns at once.
// It can succeed only once per client. Cancelling ctx stops the loop.
func (c *Client) StartBackgroundSync(ctx context.Context) (*SyncHandle, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	handle, err := syncloop.Start(ctx, syncloop.Config{
		Timeout:                c.options.SyncTimeout,
		Filter:                 string(c.options.SyncFilter),
		MaxBackoff:             c.options.MaxBackoff,
		MaxConsecutiveFailures: c.options.MaxConsecutiveFailures,
		Clock:                  c.options.Clock,
		Logger:                 c.logger,
	}, c.session, c.cursor, c.handleSync)
	if errors.Is(err, syncloop.ErrAlreadyClaimed) {
		return nil, ErrSyncStarted
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("background sync started", "since", c.cursor.Token())
	return handle, nil
}

// Close closes the session and the local store. It does not stop a
// running background loop; cancel its context or call Stop first.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.session.Close(), c.store.Close())
	})
	return c.closeErr
}

// catchUp performs one non-blocking sync and records it.
func (c *Client) catchUp(ctx context.Context) error {
	response, err := c.session.Sync(ctx, messaging.SyncOptions{
		Since:      c.cursor.Token(),
		Timeout:    0,
		SetTimeout: true,
		Filter:     string(c.options.SyncFilter),
	})
	if err != nil {
		return err
	}
	if err := c.store.ApplySync(ctx, response); err != nil {
		return err
	}
	if err := c.cursor.SetUnclaimed(response.NextBatch); err != nil {
		return err
	}
	c.logger.Info("catch-up sync complete",
		"next_batch", response.NextBatch,
		"joined_rooms", len(response.Rooms.Join),
		"invites", len(response.Rooms.Invite),
	)
	return nil
}

// handleSync stores a background sync round and dispatches its
// messages.
func (c *Client) handleSync(ctx context.Context, response *messaging.SyncResponse) error {
	if err := c.store.ApplySync(ctx, response); err != nil {
		return err
	}

	c.handlersMu.RLock()
	handlers := slices.Clone(c.handlers)
	c.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	roomIDs := make([]ref.RoomID, 0, len(response.Rooms.Join))
	for roomID := range response.Rooms.Join {
		roomIDs = append(roomIDs, roomID)
	}
	slices.SortFunc(roomIDs, func(a, b ref.RoomID) int {
		return cmp.Compare(a.String(), b.String())
	})

	for _, roomID := range roomIDs {
		room := c.Room(roomID)
		for _, event := range response.Rooms.Join[roomID].Timeline.Events {
			message, ok := messaging.ParseMessage(event)
			if !ok {
				continue
			}
			messageEvent := MessageEvent{
				RoomID:         roomID,
				EventID:        event.EventID,
				Sender:         event.Sender,
				OriginServerTS: event.OriginServerTS,
				Message:        message,
				Raw:            event,
			}
			for _, handler := range handlers {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				handler(ctx, messageEvent, room)
			}
		}
	}
	return nil
}

func (c *Client) record() *sessionstore.Record {
	credentials := c.session.Credentials()
	return &sessionstore.Record{
		HomeserverURL: c.homeserverURL,
		UserID:        credentials.UserID,
		DeviceID:      credentials.DeviceID,
		AccessToken:   credentials.AccessToken,
		RefreshToken:  credentials.RefreshToken,
	}
}

func (c *Client) saveSession() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return sessionstore.Save(c.storageDir, c.record())
}

// persistRefreshedTokens writes rotated tokens back to session.json so
// the next start can resume.
func (c *Client) persistRefreshedTokens(messaging.SessionCredentials) {
	if err := c.saveSession(); err != nil {
		c.logger.Error("persisting refreshed session failed",
			"path", sessionstore.Path(c.storageDir),
			"error", fmt.Errorf("save session: %w", err),
		)
		return
	}
	c.logger.Info("persisted refreshed session", "device_id", c.session.DeviceID())
}
