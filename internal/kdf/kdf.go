// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package kdf derives key material from a password and an 8-byte carrier
// salt, ported from the original's key_generator (PBKDF2-HMAC-SHA1).
package kdf

import (
	"crypto/sha1"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterations is the PBKDF2 iteration count used unless a caller
// overrides it (the original hard-codes 10000).
const DefaultIterations = 10000

// Generator derives arbitrary-length key material from a fixed
// password/salt/iteration triple. It is deterministic: the same inputs
// always yield the same bytes.
type Generator struct {
	password   []byte
	salt       []byte
	iterations int
}

// New builds a Generator over the given password and salt using
// DefaultIterations.
func New(password string, salt []byte) *Generator {
	return NewWithIterations(password, salt, DefaultIterations)
}

// NewWithIterations builds a Generator with an explicit iteration count.
func NewWithIterations(password string, salt []byte, iterations int) *Generator {
	return &Generator{
		password:   []byte(password),
		salt:       append([]byte(nil), salt...),
		iterations: iterations,
	}
}

// Generate returns length bytes of derived key material.
func (g *Generator) Generate(length int) []byte {
	if length <= 0 {
		return nil
	}
	return pbkdf2.Key(g.password, g.salt, g.iterations, length, sha1.New)
}

// ShufflerSalt returns the provider's salt unmodified — the salt used to
// derive the device's permutator key.
func ShufflerSalt(providerSalt []byte) []byte {
	return providerSalt
}

// DeviceSalt returns the provider salt with its first byte incremented by
// one modulo 256, so for any non-empty provider salt it differs from
// ShufflerSalt and the shuffler key and the stream-cipher key material are
// never identical for the same password. An empty salt is returned
// unchanged.
func DeviceSalt(providerSalt []byte) []byte {
	if len(providerSalt) == 0 {
		return providerSalt
	}
	out := append([]byte(nil), providerSalt...)
	out[0]++
	return out
}
