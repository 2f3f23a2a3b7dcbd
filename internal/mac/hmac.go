// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package mac implements the keyed message authentication used to
// authenticate a steganographic file's plaintext payload, ported from the
// original's hmac wrapper over HMAC-SHA256.
package mac

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

// DigestSize is the size in bytes of the MAC digest (SHA-256 output).
const DigestSize = sha256.Size

// HMAC is a resettable HMAC-SHA256 accumulator.
type HMAC struct {
	key []byte
	h   hash.Hash
}

// New builds an HMAC keyed by key.
func New(key []byte) *HMAC {
	m := &HMAC{key: append([]byte(nil), key...)}
	m.h = hmac.New(sha256.New, m.key)
	return m
}

// Reset clears accumulated state, ready for a new message under the same
// key.
func (m *HMAC) Reset() {
	m.h.Reset()
}

// Update feeds more message bytes into the running MAC.
func (m *HMAC) Update(p []byte) {
	m.h.Write(p)
}

// Final returns the digest of everything fed since construction or the
// last Reset. It does not reset the accumulator.
func (m *HMAC) Final() []byte {
	return m.h.Sum(nil)
}

// Equal performs a constant-time comparison of two digests.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
