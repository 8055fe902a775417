// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/codec"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

// Payload encoding tags. Stored as the first byte of every event row;
// changing them breaks existing databases.
const (
	encodingCBOR     byte = 0
	encodingZstdCBOR byte = 1
)

// storedEvent is the on-disk form of a messaging.Event. Content stays
// as the JSON bytes the server sent so it round-trips exactly.
type storedEvent struct {
	EventID        ref.EventID   `cbor:"1,keyasint"`
	Type           ref.EventType `cbor:"2,keyasint"`
	Sender         ref.UserID    `cbor:"3,keyasint"`
	OriginServerTS int64         `cbor:"4,keyasint"`
	StateKey       *string       `cbor:"5,keyasint,omitempty"`
	Content        []byte        `cbor:"6,keyasint,omitempty"`
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("localstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("localstore: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeEvent(event messaging.Event) ([]byte, error) {
	encoded, err := codec.Marshal(storedEvent{
		EventID:        event.EventID,
		Type:           event.Type,
		Sender:         event.Sender,
		OriginServerTS: event.OriginServerTS,
		StateKey:       event.StateKey,
		Content:        event.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding event %s: %w", event.EventID, err)
	}

	compressed := zstdEncoder.EncodeAll(encoded, []byte{encodingZstdCBOR})
	if len(compressed) < len(encoded)+1 {
		return compressed, nil
	}
	return append([]byte{encodingCBOR}, encoded...), nil
}

func decodeEvent(payload []byte) (messaging.Event, error) {
	if len(payload) == 0 {
		return messaging.Event{}, fmt.Errorf("empty event payload")
	}
	body := payload[1:]
	switch payload[0] {
	case encodingCBOR:
	case encodingZstdCBOR:
		decompressed, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return messaging.Event{}, fmt.Errorf("zstd decompress: %w", err)
		}
		body = decompressed
	default:
		return messaging.Event{}, fmt.Errorf("unknown payload encoding %d", payload[0])
	}

	var stored storedEvent
	if err := codec.Unmarshal(body, &stored); err != nil {
		diagnostic, _ := codec.Diagnose(body)
		return messaging.Event{}, fmt.Errorf("decoding event %s: %w", diagnostic, err)
	}
	return messaging.Event{
		EventID:        stored.EventID,
		Type:           stored.Type,
		Sender:         stored.Sender,
		OriginServerTS: stored.OriginServerTS,
		StateKey:       stored.StateKey,
		Content:        stored.Content,
	}, nil
}
