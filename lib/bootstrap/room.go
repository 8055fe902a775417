// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/localstore"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

// Room sends to one room on behalf of the client.
type Room struct {
	id      ref.RoomID
	session *messaging.DirectSession
	store   *localstore.Store
}

// ID returns the room ID.
func (r *Room) ID() ref.RoomID { return r.id }

// Send sends an m.room.message with the given content.
func (r *Room) Send(ctx context.Context, content messaging.MessageContent) (ref.EventID, error) {
	return r.session.SendMessage(ctx, r.id, content)
}

// SendText sends a plain-text message.
func (r *Room) SendText(ctx context.Context, body string) (ref.EventID, error) {
	return r.Send(ctx, messaging.NewTextMessage(body))
}

// SendMarkdown renders source as markdown and sends it with an HTML
// formatted body.
func (r *Room) SendMarkdown(ctx context.Context, source string) (ref.EventID, error) {
	content, err := messaging.NewMarkdownMessage(source)
	if err != nil {
		return ref.EventID{}, err
	}
	return r.Send(ctx, content)
}

// ReadReceipt marks eventID as read.
func (r *Room) ReadReceipt(ctx context.Context, eventID ref.EventID) error {
	return r.session.SendReceipt(ctx, r.id, eventID)
}

// Name returns the room's m.room.name from the local store, or "" if
// the room has none.
func (r *Room) Name(ctx context.Context) (string, error) {
	event, err := r.store.StateEvent(ctx, r.id, ref.EventTypeRoomName, "")
	if errors.Is(err, localstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var content struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(event.Content, &content); err != nil {
		return "", fmt.Errorf("decoding m.room.name of %s: %w", r.id, err)
	}
	return content.Name, nil
}
