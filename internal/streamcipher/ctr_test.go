// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package streamcipher

import (
	"bytes"
	"testing"
)

func testKeyIV() ([]byte, []byte) {
	key := make([]byte, 32)
	iv := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(i * 3)
	}
	return key, iv
}

func TestCryptIsInvolution(t *testing.T) {
	key, iv := testKeyIV()
	enc, err := New(key, iv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dec, err := New(key, iv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := make([]byte, 500)
	for i := range plain {
		plain[i] = byte(i * 7)
	}
	cipher := make([]byte, len(plain))
	enc.Crypt(cipher, plain)
	if bytes.Equal(cipher, plain) {
		t.Fatalf("ciphertext equals plaintext")
	}

	recovered := make([]byte, len(cipher))
	dec.Crypt(recovered, cipher)
	if !bytes.Equal(recovered, plain) {
		t.Fatalf("decrypted output does not match original plaintext")
	}
}

func TestCryptIsAdditiveOverChunking(t *testing.T) {
	key, iv := testKeyIV()
	whole, err := New(key, iv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunked, err := New(key, iv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := make([]byte, 97)
	for i := range plain {
		plain[i] = byte(200 + i)
	}

	wholeOut := make([]byte, len(plain))
	whole.Crypt(wholeOut, plain)

	chunkedOut := make([]byte, len(plain))
	sizes := []int{1, 15, 16, 17, 48, len(plain) - 1 - 15 - 16 - 17 - 48}
	off := 0
	for _, n := range sizes {
		chunked.Crypt(chunkedOut[off:off+n], plain[off:off+n])
		off += n
	}

	if !bytes.Equal(wholeOut, chunkedOut) {
		t.Fatalf("chunked keystream application diverged from a single whole-buffer call")
	}
}

func TestSeekRepositionsKeystream(t *testing.T) {
	key, iv := testKeyIV()
	s, err := New(key, iv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := make([]byte, 1000)
	for i := range plain {
		plain[i] = byte(i)
	}
	full := make([]byte, len(plain))
	s.Crypt(full, plain)

	s2, err := New(key, iv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	const at = 337
	s2.Seek(at)
	tail := make([]byte, len(plain)-at)
	s2.Crypt(tail, plain[at:])

	if !bytes.Equal(tail, full[at:]) {
		t.Fatalf("Seek did not reproduce the keystream at that offset")
	}
	if s2.Tell() != int64(len(plain)) {
		t.Fatalf("Tell() = %d, want %d", s2.Tell(), len(plain))
	}
}

func TestSeekBackwardsThenForwards(t *testing.T) {
	key, iv := testKeyIV()
	ref, err := New(key, iv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	plain := make([]byte, 200)
	for i := range plain {
		plain[i] = byte(i)
	}
	refOut := make([]byte, len(plain))
	ref.Crypt(refOut, plain)

	s, err := New(key, iv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Seek(150)
	buf := make([]byte, 50)
	s.Crypt(buf, plain[150:])
	if !bytes.Equal(buf, refOut[150:]) {
		t.Fatalf("mismatch after forward seek")
	}

	s.Seek(20)
	buf2 := make([]byte, 30)
	s.Crypt(buf2, plain[20:50])
	if !bytes.Equal(buf2, refOut[20:50]) {
		t.Fatalf("mismatch after backward seek")
	}
}
