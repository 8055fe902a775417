// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/bootstrap"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

// commandBot answers m.text messages that contain trigger.
type commandBot struct {
	self     ref.UserID
	trigger  string
	reply    string
	markdown bool
	logger   *slog.Logger
}

func (b *commandBot) handle(ctx context.Context, event bootstrap.MessageEvent, room *bootstrap.Room) {
	if event.Sender == b.self {
		return
	}
	text, ok := event.Message.(*messaging.TextMessage)
	if !ok || text.MsgType != "m.text" {
		return
	}
	logger := b.logger.With("room_id", room.ID(), "event_id", event.EventID)

	if err := room.ReadReceipt(ctx, event.EventID); err != nil {
		logger.Warn("sending read receipt failed", "error", err)
	}
	if !strings.Contains(text.Body, b.trigger) {
		return
	}

	var (
		replyID ref.EventID
		err     error
	)
	if b.markdown {
		replyID, err = room.SendMarkdown(ctx, b.reply)
	} else {
		replyID, err = room.SendText(ctx, b.reply)
	}
	if err != nil {
		logger.Error("sending reply failed", "sender", event.Sender, "error", err)
		return
	}
	logger.Info("answered trigger", "sender", event.Sender, "reply_id", replyID)
}
