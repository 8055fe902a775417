// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration for on-disk state.
//
// JSON is the wire format for everything that talks to a homeserver
// and for session.json, which operators read and edit. CBOR is used
// for the rows of the local state store, where events are written
// once per sync and decoded on every lookup.
//
// Encoding is Core Deterministic (RFC 8949 §4.2), so the same event
// always produces the same bytes. Types that only carry `json` tags
// are encoded using those names; fxamacker/cbor falls back to them
// when no `cbor` tag is present.
package codec
