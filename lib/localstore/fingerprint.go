// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
)

// fingerprintKey domain-separates account fingerprints from any other
// BLAKE3 use. It is a protocol constant for existing databases.
var fingerprintKey = [32]byte{
	'm', 'a', 't', 'r', 'i', 'x', '-', 'c', 'l', 'i', 'e', 'n', 't', '-', 's', 't',
	'o', 'r', 'e', '-', 'a', 'c', 'c', 'o', 'u', 'n', 't', '-', 'v', '1', 0, 0,
}

// accountFingerprint returns the keyed BLAKE3 hash of userID.
func accountFingerprint(userID ref.UserID) []byte {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("localstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(userID.String()))
	return hasher.Sum(nil)
}
