// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package streamcipher implements a seekable AES counter-mode keystream,
// ported from the original's aes_ctr_mode: a 16-byte big-endian counter
// block re-encrypted on exhaustion, with random-access Seek that advances
// or rewinds the counter by the signed block delta.
package streamcipher

import "github.com/zanicar/steganofs/internal/aesprim"

// CTR is a counter-mode keystream generator seekable to any byte offset.
// It is not safe for concurrent use.
type CTR struct {
	cipher  *aesprim.Cipher
	counter [aesprim.BlockSize]byte
	buf     [aesprim.BlockSize]byte
	pos     int64
	buffPos int
}

// New builds a CTR stream keyed by key (16/24/32 bytes) with the given
// 16-byte initial counter block (the "IV"). The stream starts at position 0.
func New(key, iv []byte) (*CTR, error) {
	c, err := aesprim.New(key)
	if err != nil {
		return nil, err
	}
	s := &CTR{cipher: c}
	copy(s.counter[:], iv)
	s.cipher.Encrypt(s.buf[:], s.counter[:])
	return s, nil
}

// Tell returns the current stream position.
func (s *CTR) Tell() int64 { return s.pos }

// Crypt XORs len(out) keystream bytes into in, writing the result to out.
// in and out must be the same length; they may alias. Calling Crypt
// repeatedly at contiguous positions is equivalent to one call over the
// concatenation of the inputs.
func (s *CTR) Crypt(out, in []byte) {
	n := len(in)
	off := 0
	for n > 0 {
		todo := aesprim.BlockSize - s.buffPos
		if todo > n {
			todo = n
		}
		for i := 0; i < todo; i++ {
			out[off+i] = in[off+i] ^ s.buf[s.buffPos+i]
		}
		s.buffPos += todo
		off += todo
		n -= todo
		s.pos += int64(todo)
		if s.buffPos >= aesprim.BlockSize {
			incrementBE(s.counter[:])
			s.buffPos = 0
			s.cipher.Encrypt(s.buf[:], s.counter[:])
		}
	}
}

// Seek repositions the stream to absolute byte offset pos, which must be
// non-negative. The counter is advanced or rewound by the signed block
// delta and re-encrypted only if the target block differs from the
// current one.
func (s *CTR) Seek(pos int64) {
	block := s.pos / aesprim.BlockSize
	newBlock := pos / aesprim.BlockSize
	s.buffPos = int(pos % aesprim.BlockSize)
	if block != newBlock {
		add128(s.counter[:], newBlock-block)
		s.cipher.Encrypt(s.buf[:], s.counter[:])
	}
	s.pos = pos
}

// incrementBE increments a big-endian byte slice (the lowest-addressed
// byte is most significant) by one, with carry.
func incrementBE(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

// add128 adds the signed delta to the 128-bit big-endian integer held in
// the low 8 bytes of b, carrying into the high 8 bytes as needed. This
// mirrors the original's add128, which treats the counter block as a
// 128-bit big-endian integer split into two 64-bit big-endian halves.
func add128(b []byte, delta int64) {
	lo := beUint64(b[8:16])
	sum := int64(lo) + delta
	beePutUint64(b[8:16], uint64(sum))
	carry := int64(0)
	if delta < 0 && uint64(sum) > lo {
		carry = -1
	} else if delta > 0 && uint64(sum) < lo {
		carry = 1
	}
	if carry != 0 {
		hi := beUint64(b[0:8])
		beePutUint64(b[0:8], uint64(int64(hi)+carry))
	}
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func beePutUint64(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
