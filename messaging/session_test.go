// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging/messagingtest"
)

func loginSession(t *testing.T, homeserver *messagingtest.Homeserver) *messaging.DirectSession {
	t.Helper()
	homeserver.AddUser("bot", "hunter2")
	client := newTestClient(t, homeserver.URL())
	session, err := client.Login(context.Background(), messaging.LoginRequest{User: "bot", Password: password(t, "hunter2")})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSessionFromTokenWhoAmI(t *testing.T) {
	homeserver := messagingtest.New(t, "example.org")
	userID := homeserver.AddUser("bot", "hunter2")
	token := homeserver.IssueToken(userID, "STOREDDEVICE")
	client := newTestClient(t, homeserver.URL())

	session, err := client.SessionFromToken(messaging.SessionCredentials{
		UserID:      userID,
		DeviceID:    ref.DeviceID{},
		AccessToken: token,
	})
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	defer session.Close()

	whoami, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if whoami.UserID != userID {
		t.Errorf("WhoAmI user = %s, want %s", whoami.UserID, userID)
	}
	if whoami.DeviceID.String() != "STOREDDEVICE" {
		t.Errorf("WhoAmI device = %s, want STOREDDEVICE", whoami.DeviceID)
	}
	if len(homeserver.Logins()) != 0 {
		t.Error("restoring a session performed a login")
	}
}

func TestSessionFromTokenRevoked(t *testing.T) {
	homeserver := messagingtest.New(t, "example.org")
	userID := homeserver.AddUser("bot", "hunter2")
	token := homeserver.IssueToken(userID, "STOREDDEVICE")
	homeserver.RevokeToken(token)
	client := newTestClient(t, homeserver.URL())

	session, err := client.SessionFromToken(messaging.SessionCredentials{UserID: userID, AccessToken: token})
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	defer session.Close()

	_, err = session.WhoAmI(context.Background())
	if !messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
		t.Fatalf("WhoAmI error = %v, want M_UNKNOWN_TOKEN", err)
	}
	if !messaging.IsAuthError(err) {
		t.Error("IsAuthError = false for a revoked token")
	}
}

func TestSessionFromTokenRequiresFields(t *testing.T) {
	client := newTestClient(t, "https://matrix.example.org")
	if _, err := client.SessionFromToken(messaging.SessionCredentials{AccessToken: "token"}); err == nil {
		t.Error("SessionFromToken succeeded without a user ID")
	}
	if _, err := client.SessionFromToken(messaging.SessionCredentials{UserID: ref.MustParseUserID("@bot:example.org")}); err == nil {
		t.Error("SessionFromToken succeeded without an access token")
	}
}

func TestSoftLogoutRefreshesAndRetries(t *testing.T) {
	homeserver := messagingtest.New(t, "example.org")
	session := loginSession(t, homeserver)
	oldToken := session.AccessToken()

	var mu sync.Mutex
	var refreshed []messaging.SessionCredentials
	session.OnTokenRefresh(func(credentials messaging.SessionCredentials) {
		mu.Lock()
		refreshed = append(refreshed, credentials)
		mu.Unlock()
	})

	homeserver.ExpireToken(oldToken)
	if _, err := session.WhoAmI(context.Background()); err != nil {
		t.Fatalf("WhoAmI after soft logout: %v", err)
	}

	if homeserver.Refreshes() != 1 {
		t.Errorf("Refreshes() = %d, want 1", homeserver.Refreshes())
	}
	if session.AccessToken() == oldToken {
		t.Error("access token did not change after refresh")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(refreshed) != 1 {
		t.Fatalf("refresh callback ran %d times, want 1", len(refreshed))
	}
	if refreshed[0].AccessToken != session.AccessToken() {
		t.Error("callback received a different access token than the session holds")
	}
	if refreshed[0].DeviceID != session.DeviceID() {
		t.Error("callback received a different device ID")
	}
}

func TestHardLogoutDoesNotRefresh(t *testing.T) {
	homeserver := messagingtest.New(t, "example.org")
	session := loginSession(t, homeserver)
	homeserver.RevokeToken(session.AccessToken())

	_, err := session.WhoAmI(context.Background())
	if !messaging.IsAuthError(err) {
		t.Fatalf("WhoAmI error = %v, want auth error", err)
	}
	if homeserver.Refreshes() != 0 {
		t.Errorf("Refreshes() = %d, want 0 for a hard logout", homeserver.Refreshes())
	}
}

func TestSyncAndSend(t *testing.T) {
	homeserver := messagingtest.New(t, "example.org")
	session := loginSession(t, homeserver)
	roomID := ref.MustParseRoomID("!party:example.org")
	alice := homeserver.AddUser("alice", "secret")
	queued := homeserver.QueueMessage(roomID, alice, "!party")

	response, err := session.Sync(context.Background(), messaging.SyncOptions{SetTimeout: true})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if response.NextBatch == "" {
		t.Error("NextBatch is empty")
	}
	room, ok := response.Rooms.Join[roomID]
	if !ok {
		t.Fatalf("room %s missing from sync; rooms = %v", roomID, response.Rooms.Join)
	}
	if len(room.Timeline.Events) != 1 || room.Timeline.Events[0].EventID != queued {
		t.Fatalf("timeline = %+v, want the queued event", room.Timeline.Events)
	}

	eventID, err := session.SendMessage(context.Background(), roomID, messaging.NewTextMessage("hello"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := session.SendReceipt(context.Background(), roomID, queued); err != nil {
		t.Fatalf("SendReceipt: %v", err)
	}

	sent := homeserver.Sent()
	if len(sent) != 1 || sent[0].EventID != eventID || sent[0].Type != ref.EventTypeRoomMessage {
		t.Fatalf("sent = %+v", sent)
	}
	var content messaging.MessageContent
	if err := json.Unmarshal(sent[0].Content, &content); err != nil {
		t.Fatalf("decoding sent content: %v", err)
	}
	if content.Body != "hello" || content.MsgType != "m.text" {
		t.Errorf("sent content = %+v", content)
	}
	receipts := homeserver.Receipts()
	if len(receipts) != 1 || receipts[0].EventID != queued {
		t.Errorf("receipts = %+v", receipts)
	}

	syncs := homeserver.Syncs()
	if syncs[0].Timeout != "0" {
		t.Errorf("sync timeout = %q, want \"0\"", syncs[0].Timeout)
	}

	next, err := session.Sync(context.Background(), messaging.SyncOptions{Since: response.NextBatch, SetTimeout: true})
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if got := homeserver.Syncs()[1].Since; got != response.NextBatch {
		t.Errorf("second sync since = %q, want %q", got, response.NextBatch)
	}
	echo := next.Rooms.Join[roomID].Timeline.Events
	if len(echo) != 1 || echo[0].EventID != eventID {
		t.Errorf("second sync timeline = %+v, want the echo of the sent event", echo)
	}
}

func TestJoinRoom(t *testing.T) {
	homeserver := messagingtest.New(t, "example.org")
	session := loginSession(t, homeserver)
	roomID := ref.MustParseRoomID("!invite:example.org")

	joined, err := session.JoinRoom(context.Background(), roomID)
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if joined != roomID {
		t.Errorf("JoinRoom returned %s, want %s", joined, roomID)
	}
	if joins := homeserver.Joins(); len(joins) != 1 || joins[0] != roomID {
		t.Errorf("joins = %v", joins)
	}
}

func TestClosedSession(t *testing.T) {
	homeserver := messagingtest.New(t, "example.org")
	session := loginSession(t, homeserver)
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if session.AccessToken() != "" {
		t.Error("AccessToken() non-empty after Close")
	}
	if _, err := session.WhoAmI(context.Background()); !errors.Is(err, messaging.ErrSessionClosed) {
		t.Errorf("WhoAmI after Close = %v, want ErrSessionClosed", err)
	}
}
