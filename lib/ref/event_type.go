// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state or timeline event type
// ("m.room.message", "m.room.member", ...). It is a named string
// rather than a struct wrapper because event types need no parsing;
// the type only stops a state key being passed where an event type is
// expected.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }

// Event types the bootstrap code reads or writes.
const (
	EventTypeRoomMessage EventType = "m.room.message"
	EventTypeRoomMember  EventType = "m.room.member"
	EventTypeRoomName    EventType = "m.room.name"
	EventTypeReceipt     EventType = "m.receipt"
)
