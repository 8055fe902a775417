// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

var (
	testUser = ref.MustParseUserID("@bot:example.org")
	testRoom = ref.MustParseRoomID("!room:example.org")
)

func openTestStore(t *testing.T, directory string, limit int) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Directory: directory, UserID: testUser, TimelineLimit: limit})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func textEvent(id, body string) messaging.Event {
	content, _ := json.Marshal(map[string]string{"msgtype": "m.text", "body": body})
	return messaging.Event{
		EventID:        ref.MustParseEventID(id),
		Type:           ref.EventTypeRoomMessage,
		Sender:         ref.MustParseUserID("@alice:example.org"),
		OriginServerTS: 1700000000000,
		Content:        content,
	}
}

func stateEvent(id string, eventType ref.EventType, stateKey, content string) messaging.Event {
	return messaging.Event{
		EventID:  ref.MustParseEventID(id),
		Type:     eventType,
		Sender:   testUser,
		StateKey: &stateKey,
		Content:  json.RawMessage(content),
	}
}

func TestSyncTokenRoundTrip(t *testing.T) {
	directory := t.TempDir()
	store := openTestStore(t, directory, 0)
	ctx := context.Background()

	token, err := store.SyncToken(ctx)
	if err != nil {
		t.Fatalf("SyncToken: %v", err)
	}
	if token != "" {
		t.Errorf("fresh store token = %q, want empty", token)
	}
	if err := store.SetSyncToken(ctx, "s42"); err != nil {
		t.Fatalf("SetSyncToken: %v", err)
	}
	store.Close()

	reopened := openTestStore(t, directory, 0)
	token, err = reopened.SyncToken(ctx)
	if err != nil {
		t.Fatalf("SyncToken after reopen: %v", err)
	}
	if token != "s42" {
		t.Errorf("token after reopen = %q, want s42", token)
	}
}

func TestOpenRejectsOtherAccount(t *testing.T) {
	directory := t.TempDir()
	store := openTestStore(t, directory, 0)
	store.Close()

	_, err := Open(context.Background(), Config{
		Directory: directory,
		UserID:    ref.MustParseUserID("@someone-else:example.org"),
	})
	if !errors.Is(err, ErrAccountMismatch) {
		t.Fatalf("Open for another user = %v, want ErrAccountMismatch", err)
	}
}

func TestOpenValidatesConfig(t *testing.T) {
	if _, err := Open(context.Background(), Config{UserID: testUser}); err == nil {
		t.Error("Open without Directory succeeded")
	}
	if _, err := Open(context.Background(), Config{Directory: t.TempDir()}); err == nil {
		t.Error("Open without UserID succeeded")
	}
}

func TestApplySync(t *testing.T) {
	store := openTestStore(t, t.TempDir(), 0)
	ctx := context.Background()
	invited := ref.MustParseRoomID("!invited:example.org")

	err := store.ApplySync(ctx, &messaging.SyncResponse{
		NextBatch: "s1",
		Rooms: messaging.RoomsSection{
			Join: map[ref.RoomID]messaging.JoinedRoom{
				testRoom: {
					State: messaging.StateSection{Events: []messaging.Event{
						stateEvent("$name1", ref.EventTypeRoomName, "", `{"name":"Old name"}`),
					}},
					Timeline: messaging.TimelineSection{Events: []messaging.Event{
						textEvent("$m1", "first"),
						stateEvent("$name2", ref.EventTypeRoomName, "", `{"name":"Party room"}`),
						textEvent("$m2", "second"),
					}},
				},
			},
			Invite: map[ref.RoomID]messaging.InvitedRoom{
				invited: {InviteState: messaging.StateSection{Events: []messaging.Event{
					stateEvent("$inv", ref.EventTypeRoomMember, testUser.String(), `{"membership":"invite"}`),
				}}},
			},
		},
	})
	if err != nil {
		t.Fatalf("ApplySync: %v", err)
	}

	token, err := store.SyncToken(ctx)
	if err != nil || token != "s1" {
		t.Fatalf("SyncToken = %q, %v; want s1", token, err)
	}

	rooms, err := store.Rooms(ctx)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	want := []RoomInfo{
		{ID: invited, Membership: MembershipInvite},
		{ID: testRoom, Membership: MembershipJoin},
	}
	if len(rooms) != len(want) {
		t.Fatalf("Rooms = %+v, want %+v", rooms, want)
	}
	for i := range want {
		if rooms[i] != want[i] {
			t.Errorf("Rooms[%d] = %+v, want %+v", i, rooms[i], want[i])
		}
	}

	name, err := store.StateEvent(ctx, testRoom, ref.EventTypeRoomName, "")
	if err != nil {
		t.Fatalf("StateEvent: %v", err)
	}
	if name.EventID.String() != "$name2" || string(name.Content) != `{"name":"Party room"}` {
		t.Errorf("room name state = %s %s, want the timeline's later event", name.EventID, name.Content)
	}

	if _, err := store.StateEvent(ctx, testRoom, ref.EventTypeRoomMember, "@nobody:example.org"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing state = %v, want ErrNotFound", err)
	}

	timeline, err := store.Timeline(ctx, testRoom, 0)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	var ids []string
	for _, event := range timeline {
		ids = append(ids, event.EventID.String())
	}
	if got := strings.Join(ids, ","); got != "$m1,$name2,$m2" {
		t.Errorf("timeline = %s, want $m1,$name2,$m2", got)
	}
	if timeline[0].Sender.String() != "@alice:example.org" || timeline[0].OriginServerTS != 1700000000000 {
		t.Errorf("timeline[0] = %+v, fields lost in storage", timeline[0])
	}
}

func TestApplySyncLeaveUpdatesMembership(t *testing.T) {
	store := openTestStore(t, t.TempDir(), 0)
	ctx := context.Background()

	join := &messaging.SyncResponse{NextBatch: "s1", Rooms: messaging.RoomsSection{
		Join: map[ref.RoomID]messaging.JoinedRoom{testRoom: {}},
	}}
	leave := &messaging.SyncResponse{NextBatch: "s2", Rooms: messaging.RoomsSection{
		Leave: map[ref.RoomID]messaging.LeftRoom{testRoom: {}},
	}}
	for _, response := range []*messaging.SyncResponse{join, leave} {
		if err := store.ApplySync(ctx, response); err != nil {
			t.Fatalf("ApplySync(%s): %v", response.NextBatch, err)
		}
	}

	rooms, err := store.Rooms(ctx)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Membership != MembershipLeave {
		t.Errorf("Rooms = %+v, want one left room", rooms)
	}
}

func TestTimelineTrimmedToLimit(t *testing.T) {
	store := openTestStore(t, t.TempDir(), 3)
	ctx := context.Background()

	for batch := range 3 {
		var events []messaging.Event
		for i := range 2 {
			events = append(events, textEvent(fmt.Sprintf("$b%d-%d", batch, i), "x"))
		}
		err := store.ApplySync(ctx, &messaging.SyncResponse{
			NextBatch: fmt.Sprintf("s%d", batch),
			Rooms: messaging.RoomsSection{Join: map[ref.RoomID]messaging.JoinedRoom{
				testRoom: {Timeline: messaging.TimelineSection{Events: events}},
			}},
		})
		if err != nil {
			t.Fatalf("ApplySync batch %d: %v", batch, err)
		}
	}

	timeline, err := store.Timeline(ctx, testRoom, 0)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	var ids []string
	for _, event := range timeline {
		ids = append(ids, event.EventID.String())
	}
	if got := strings.Join(ids, ","); got != "$b1-1,$b2-0,$b2-1" {
		t.Errorf("timeline = %s, want the last three events", got)
	}

	latest, err := store.Timeline(ctx, testRoom, 1)
	if err != nil {
		t.Fatalf("Timeline(1): %v", err)
	}
	if len(latest) != 1 || latest[0].EventID.String() != "$b2-1" {
		t.Errorf("Timeline(1) = %+v, want only the newest event", latest)
	}
}

func TestApplySyncDuplicateEventIgnored(t *testing.T) {
	store := openTestStore(t, t.TempDir(), 0)
	ctx := context.Background()
	response := &messaging.SyncResponse{NextBatch: "s1", Rooms: messaging.RoomsSection{
		Join: map[ref.RoomID]messaging.JoinedRoom{
			testRoom: {Timeline: messaging.TimelineSection{Events: []messaging.Event{textEvent("$dup", "x")}}},
		},
	}}
	for range 2 {
		if err := store.ApplySync(ctx, response); err != nil {
			t.Fatalf("ApplySync: %v", err)
		}
	}
	timeline, err := store.Timeline(ctx, testRoom, 0)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(timeline) != 1 {
		t.Errorf("timeline has %d events, want 1", len(timeline))
	}
}

func TestApplySyncNil(t *testing.T) {
	store := openTestStore(t, t.TempDir(), 0)
	if err := store.ApplySync(context.Background(), nil); err == nil {
		t.Error("ApplySync(nil) succeeded")
	}
}

func TestEventPayloadEncoding(t *testing.T) {
	small := textEvent("$small", "hi")
	large := textEvent("$large", strings.Repeat("party ", 500))

	for _, test := range []struct {
		name     string
		event    messaging.Event
		encoding byte
	}{
		{"small stays raw", small, encodingCBOR},
		{"large compresses", large, encodingZstdCBOR},
	} {
		t.Run(test.name, func(t *testing.T) {
			payload, err := encodeEvent(test.event)
			if err != nil {
				t.Fatalf("encodeEvent: %v", err)
			}
			if payload[0] != test.encoding {
				t.Errorf("encoding tag = %d, want %d", payload[0], test.encoding)
			}
			decoded, err := decodeEvent(payload)
			if err != nil {
				t.Fatalf("decodeEvent: %v", err)
			}
			if decoded.EventID != test.event.EventID || string(decoded.Content) != string(test.event.Content) {
				t.Errorf("decoded = %+v, want %+v", decoded, test.event)
			}
		})
	}
}

func TestDecodeEventRejectsUnknownEncoding(t *testing.T) {
	if _, err := decodeEvent([]byte{9, 1, 2}); err == nil {
		t.Error("decodeEvent accepted an unknown encoding tag")
	}
	if _, err := decodeEvent(nil); err == nil {
		t.Error("decodeEvent accepted an empty payload")
	}
}

func TestAccountFingerprint(t *testing.T) {
	first := accountFingerprint(testUser)
	if len(first) != 32 {
		t.Fatalf("fingerprint length = %d, want 32", len(first))
	}
	if string(first) != string(accountFingerprint(testUser)) {
		t.Error("fingerprint is not deterministic")
	}
	if string(first) == string(accountFingerprint(ref.MustParseUserID("@other:example.org"))) {
		t.Error("different users share a fingerprint")
	}
}
