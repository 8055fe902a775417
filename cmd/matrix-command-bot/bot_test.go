// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/bootstrap"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/secret"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/testutil"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging/messagingtest"
)

const partyReply = "🎉🎊🥳 let's PARTY!! 🥳🎊🎉"

var botRoom = ref.MustParseRoomID("!lobby:example.org")

type botHarness struct {
	homeserver *messagingtest.Homeserver
	client     *bootstrap.Client
	alice      ref.UserID
	// handled receives each event after the bot has finished with it.
	handled chan ref.EventID
}

func startBot(t *testing.T, markdown bool) *botHarness {
	t.Helper()
	homeserver := messagingtest.New(t, "example.org")
	botUser := homeserver.AddUser("partybot", "pw")
	password, err := secret.NewFromString("pw")
	if err != nil {
		t.Fatal(err)
	}
	defer password.Close()

	logger := slog.New(slog.DiscardHandler)
	client, err := bootstrap.New(context.Background(),
		bootstrap.Credentials{Username: botUser.String(), Password: password},
		bootstrap.Options{
			StorageDir:    t.TempDir(),
			HomeserverURL: homeserver.URL(),
			Logger:        logger,
		})
	if err != nil {
		t.Fatalf("bootstrap.New: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	harness := &botHarness{
		homeserver: homeserver,
		client:     client,
		alice:      homeserver.AddUser("alice", "pw"),
		handled:    make(chan ref.EventID, 16),
	}
	bot := &commandBot{
		self:     client.UserID(),
		trigger:  "!party",
		reply:    partyReply,
		markdown: markdown,
		logger:   logger,
	}
	client.OnMessage(bot.handle)
	client.OnMessage(func(ctx context.Context, event bootstrap.MessageEvent, room *bootstrap.Room) {
		harness.handled <- event.EventID
	})

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := client.StartBackgroundSync(ctx)
	if err != nil {
		cancel()
		t.Fatalf("StartBackgroundSync: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, handle.Done(), 5*time.Second, "sync loop exit")
	})
	return harness
}

// deliver queues an event and waits until the bot has processed it.
func (h *botHarness) deliver(t *testing.T, event messaging.Event) ref.EventID {
	t.Helper()
	eventID := h.homeserver.QueueEvent(botRoom, event)
	for {
		handled := testutil.RequireReceive(t, h.handled, 5*time.Second, "dispatch of", eventID)
		if handled == eventID {
			return eventID
		}
	}
}

func textEvent(sender ref.UserID, msgtype, body string) messaging.Event {
	content, _ := json.Marshal(map[string]string{"msgtype": msgtype, "body": body})
	return messaging.Event{Type: ref.EventTypeRoomMessage, Sender: sender, Content: content}
}

func TestBotRepliesToTrigger(t *testing.T) {
	h := startBot(t, false)
	eventID := h.deliver(t, textEvent(h.alice, "m.text", "time to !party"))

	sent := h.homeserver.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1 reply", len(sent))
	}
	var content messaging.MessageContent
	if err := json.Unmarshal(sent[0].Content, &content); err != nil {
		t.Fatal(err)
	}
	if content.MsgType != "m.text" || content.Body != partyReply || content.FormattedBody != "" {
		t.Errorf("reply content = %+v", content)
	}
	if sent[0].RoomID != botRoom || sent[0].Sender != h.client.UserID() {
		t.Errorf("reply = %+v", sent[0])
	}

	receipts := h.homeserver.Receipts()
	if len(receipts) != 1 || receipts[0].EventID != eventID {
		t.Errorf("receipts = %+v, want one for %s", receipts, eventID)
	}
}

func TestBotMarkdownReply(t *testing.T) {
	h := startBot(t, true)
	h.deliver(t, textEvent(h.alice, "m.text", "!party"))

	sent := h.homeserver.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1", len(sent))
	}
	var content messaging.MessageContent
	if err := json.Unmarshal(sent[0].Content, &content); err != nil {
		t.Fatal(err)
	}
	if content.Format != messaging.FormatHTML || content.FormattedBody == "" {
		t.Errorf("markdown reply lacks an HTML body: %+v", content)
	}
}

func TestBotIgnores(t *testing.T) {
	tests := []struct {
		name        string
		event       func(h *botHarness) messaging.Event
		wantReceipt bool
	}{
		{
			name:        "no trigger",
			event:       func(h *botHarness) messaging.Event { return textEvent(h.alice, "m.text", "hello") },
			wantReceipt: true,
		},
		{
			name:  "notice",
			event: func(h *botHarness) messaging.Event { return textEvent(h.alice, "m.notice", "!party") },
		},
		{
			name:  "own message",
			event: func(h *botHarness) messaging.Event { return textEvent(h.client.UserID(), "m.text", "!party") },
		},
		{
			name:  "image",
			event: func(h *botHarness) messaging.Event { return textEvent(h.alice, "m.image", "!party.png") },
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := startBot(t, false)
			h.deliver(t, test.event(h))

			if sent := h.homeserver.Sent(); len(sent) != 0 {
				t.Errorf("bot replied: %+v", sent)
			}
			if got := len(h.homeserver.Receipts()) == 1; got != test.wantReceipt {
				t.Errorf("receipt sent = %v, want %v", got, test.wantReceipt)
			}
		})
	}
}
