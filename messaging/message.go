// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
)

// MessageKind distinguishes the variants returned by ParseMessage.
type MessageKind int

const (
	KindText MessageKind = iota
	KindMedia
	KindOther
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindMedia:
		return "media"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Message is the decoded content of an m.room.message event. The set
// of implementations is closed: *TextMessage, *MediaMessage and
// *OtherMessage.
type Message interface {
	Kind() MessageKind
	// MessageBody returns the plain-text body every msgtype carries.
	MessageBody() string
	isMessage()
}

// TextMessage is an m.text, m.notice or m.emote message.
type TextMessage struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// MediaMessage is an m.image, m.file, m.audio or m.video message.
type MediaMessage struct {
	MsgType string    `json:"msgtype"`
	Body    string    `json:"body"`
	URL     string    `json:"url,omitempty"`
	Info    MediaInfo `json:"info,omitzero"`
}

// MediaInfo is the optional metadata attached to media messages.
type MediaInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// OtherMessage is any msgtype this package does not model. Content
// holds the full raw event content.
type OtherMessage struct {
	MsgType string
	Body    string
	Content json.RawMessage
}

func (*TextMessage) Kind() MessageKind  { return KindText }
func (*MediaMessage) Kind() MessageKind { return KindMedia }
func (*OtherMessage) Kind() MessageKind { return KindOther }

func (m *TextMessage) MessageBody() string  { return m.Body }
func (m *MediaMessage) MessageBody() string { return m.Body }
func (m *OtherMessage) MessageBody() string { return m.Body }

func (*TextMessage) isMessage()  {}
func (*MediaMessage) isMessage() {}
func (*OtherMessage) isMessage() {}

// ParseMessage decodes an m.room.message event. It returns false for
// events of any other type, redacted messages, and content without a
// msgtype.
func ParseMessage(event Event) (Message, bool) {
	if event.Type != ref.EventTypeRoomMessage || len(event.Content) == 0 {
		return nil, false
	}
	var header struct {
		MsgType string `json:"msgtype"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(event.Content, &header); err != nil || header.MsgType == "" {
		return nil, false
	}

	switch header.MsgType {
	case "m.text", "m.notice", "m.emote":
		var message TextMessage
		if err := json.Unmarshal(event.Content, &message); err != nil {
			return nil, false
		}
		return &message, true
	case "m.image", "m.file", "m.audio", "m.video":
		var message MediaMessage
		if err := json.Unmarshal(event.Content, &message); err != nil {
			return nil, false
		}
		return &message, true
	default:
		return &OtherMessage{
			MsgType: header.MsgType,
			Body:    header.Body,
			Content: event.Content,
		}, true
	}
}

// MessageContent is the content of an outgoing m.room.message event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}
