// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package aesprim wraps the AES block cipher primitive used to build the
// permutator's Feistel round function and the counter-mode stream cipher.
// It never chains blocks and never pads; callers own both concerns.
package aesprim

import (
	"crypto/aes"
	"fmt"
)

// BlockSize is the AES block size in bytes, used throughout the package as
// the permutator tweak size and the stream cipher counter width.
const BlockSize = aes.BlockSize

// Cipher encrypts and decrypts single 128-bit blocks under a fixed key.
// Keys may be 16, 24 or 32 bytes (AES-128/192/256).
type Cipher struct {
	block cipherBlock
}

type cipherBlock interface {
	Encrypt(dst, src []byte)
	Decrypt(dst, src []byte)
}

// New builds a Cipher from key material. It returns an error if keysize is
// not one of the sizes AES supports.
func New(key []byte) (*Cipher, error) {
	c := &Cipher{}
	if err := c.Rekey(key); err != nil {
		return nil, err
	}
	return c, nil
}

// Rekey replaces the cipher's key material in place.
func (c *Cipher) Rekey(key []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("aesprim: rekey: %w", err)
	}
	c.block = block
	return nil
}

// Encrypt writes the single-block AES encryption of in into out. in and out
// must each be BlockSize bytes; they may alias.
func (c *Cipher) Encrypt(out, in []byte) {
	c.block.Encrypt(out, in)
}

// Decrypt writes the single-block AES decryption of in into out. in and out
// must each be BlockSize bytes; they may alias.
func (c *Cipher) Decrypt(out, in []byte) {
	c.block.Decrypt(out, in)
}
