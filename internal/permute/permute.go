// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package permute implements a keyed, format-preserving pseudorandom
// permutation on the integer range [0, N), built as a balanced Feistel
// network over AES — an AES-FFX-A2-style construction. It gives
// random-access, constant-additional-memory shuffling of carrier cell
// indices: Context ported from the original's permutator::context.
//
// See http://csrc.nist.gov/groups/ST/toolkit/BCM/documents/proposedmodes/ffx/ffx-spec.pdf
package permute

import "github.com/zanicar/steganofs/internal/aesprim"

// Index is the type used for carrier cell indices and permutation inputs.
type Index = uint64

// Context is an immutable, keyed permutation over [0, Size).
// It is safe for concurrent read-only use once constructed.
type Context struct {
	size      Index
	cipher    *aesprim.Cipher
	bitlen    byte
	split     byte
	rounds    byte
	tweakTmpl [aesprim.BlockSize]byte
	mask      [2]uint64
}

// New builds a Context over [0, size) keyed by a 16/24/32-byte key.
func New(size Index, key []byte) (*Context, error) {
	cipher, err := aesprim.New(key)
	if err != nil {
		return nil, err
	}
	c := &Context{size: size, cipher: cipher}
	c.setup()
	return c, nil
}

// Size returns the permutation's domain size.
func (c *Context) Size() Index { return c.size }

func (c *Context) setup() {
	n := c.size
	var bitlen byte
	for ; n != 0; bitlen++ {
		n >>= 1
	}
	c.bitlen = bitlen
	c.split = bitlen / 2
	rightWidth := (bitlen + 1) / 2
	c.mask[0] = (uint64(1) << c.split) - 1
	c.mask[1] = (uint64(1) << rightWidth) - 1

	switch {
	case bitlen <= 9:
		c.rounds = 36
	case bitlen <= 13:
		c.rounds = 30
	case bitlen <= 19:
		c.rounds = 24
	case bitlen <= 31:
		c.rounds = 18
	default:
		c.rounds = 12
	}

	c.tweakTmpl[0] = 0
	c.tweakTmpl[1] = 1
	c.tweakTmpl[2] = 2
	c.tweakTmpl[3] = 0
	c.tweakTmpl[4] = 2
	c.tweakTmpl[5] = bitlen
	c.tweakTmpl[6] = c.split
	c.tweakTmpl[7] = c.rounds
	for i := 8; i < aesprim.BlockSize; i++ {
		c.tweakTmpl[i] = 0
	}
	c.cipher.Encrypt(c.tweakTmpl[:], c.tweakTmpl[:])
}

// round evaluates the Feistel round function F(r, B): builds a 16-byte
// buffer with the round index in byte 7 and B big-endian in the trailing
// bytes, XORs in the tweak template, encrypts, and reads back a masked
// half out of the same trailing byte range.
func (c *Context) round(r byte, b uint64) uint64 {
	var q [aesprim.BlockSize]byte
	q[7] = r
	putBE64(q[8:16], b)
	for i := range q {
		q[i] ^= c.tweakTmpl[i]
	}
	c.cipher.Encrypt(q[:], q[:])
	out := getBE64(q[8:16])
	return out & c.mask[r%2]
}

// Encrypt maps i in [0, Size) to its permuted index, also in [0, Size).
func (c *Context) Encrypt(i Index) Index {
	a := uint64(i) & c.mask[0]
	b := uint64(i) >> c.split
	for r := byte(0); r < c.rounds; r++ {
		ci := a ^ c.round(r, b)
		a = b
		b = ci
	}
	j := Index((b << c.split) | a)
	if j >= c.size {
		return c.Encrypt(j)
	}
	return j
}

// Reverse inverts Encrypt: Reverse(Encrypt(i)) == i for all i in [0, Size).
func (c *Context) Reverse(j Index) Index {
	a := uint64(j) & c.mask[0]
	b := uint64(j) >> c.split
	for r := c.rounds; r > 0; r-- {
		ci := b
		b = a
		a = ci ^ c.round(r-1, b)
	}
	i := Index((b << c.split) | a)
	if i >= c.size {
		return c.Reverse(i)
	}
	return i
}

func putBE64(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

func getBE64(src []byte) uint64 {
	var v uint64
	for _, b := range src {
		v = v<<8 | uint64(b)
	}
	return v
}
