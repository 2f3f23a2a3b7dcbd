// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package device

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/zanicar/steganofs/internal/carrier"
	"github.com/zanicar/steganofs/internal/carrier/bmpcarrier"
)

// makeBMP builds a minimal, valid 24-bit BMP buffer with zeroed pixel
// data, large enough to carry a non-trivial device payload.
func makeBMP(width, height uint32) []byte {
	rowSize := uint64(width) * 3
	slack := uint64(0)
	if rowSize%4 != 0 {
		slack = 4 - rowSize%4
	}
	const dataOff = 54
	total := dataOff + int(uint64(height)*(rowSize+slack))

	buf := make([]byte, total)
	copy(buf[0:2], "BM")
	binary.LittleEndian.PutUint32(buf[2:6], uint32(total))
	binary.LittleEndian.PutUint32(buf[10:14], dataOff)
	binary.LittleEndian.PutUint32(buf[14:18], 40)
	binary.LittleEndian.PutUint32(buf[18:22], width)
	binary.LittleEndian.PutUint32(buf[22:26], height)
	binary.LittleEndian.PutUint16(buf[26:28], 1)
	binary.LittleEndian.PutUint16(buf[28:30], 24)
	return buf
}

func bmpProvider(t *testing.T, w, h uint32) carrier.Provider {
	t.Helper()
	p, err := bmpcarrier.New(makeBMP(w, h))
	if err != nil {
		t.Fatalf("build BMP provider: %v", err)
	}
	return p
}

func TestDeviceWriteReadRoundTrip(t *testing.T) {
	p := bmpProvider(t, 40, 30)
	d, err := New(p, "correct horse", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := d.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := d.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(d, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
}

func TestDeviceTrailerSurvivesCommitAndReopen(t *testing.T) {
	p := bmpProvider(t, 40, 30)
	d, err := New(p, "hunter2", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := []byte("persisted payload")
	if _, err := d.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	image, err := d.CommitToMemory()
	if err != nil {
		t.Fatalf("CommitToMemory: %v", err)
	}

	reloadedProvider, err := bmpcarrier.New(image)
	if err != nil {
		t.Fatalf("reload provider: %v", err)
	}
	d2, err := New(reloadedProvider, "hunter2", true, true)
	if err != nil {
		t.Fatalf("reopen device: %v", err)
	}
	if d2.Size() != int64(len(payload)) {
		t.Fatalf("Size() = %d, want %d", d2.Size(), len(payload))
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(d2, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
}

func TestDeviceWrongPasswordFailsExtraction(t *testing.T) {
	p := bmpProvider(t, 40, 30)
	d, err := New(p, "correct horse", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := []byte("some bytes of payload data")
	if _, err := d.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	image, err := d.CommitToMemory()
	if err != nil {
		t.Fatalf("CommitToMemory: %v", err)
	}

	reloadedProvider, err := bmpcarrier.New(image)
	if err != nil {
		t.Fatalf("reload provider: %v", err)
	}
	d2, err := New(reloadedProvider, "wrong password", true, true)
	if err == nil {
		if d2.Size() == int64(len(payload)) {
			t.Fatalf("wrong password recovered the same payload length by coincidence; re-run with different fixture")
		}
	}
}

func TestDeviceIdempotentRewrite(t *testing.T) {
	p := bmpProvider(t, 40, 30)
	d, err := New(p, "pw", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := []byte("idempotent")
	if _, err := d.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := d.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if _, err := d.Write(payload); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if _, err := d.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(d, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
}

func TestDeviceHighNybblePreserved(t *testing.T) {
	p := bmpProvider(t, 40, 30)
	d, err := New(p, "pw", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, b := range []byte{0x00, 0x0F, 0xF0, 0xFF, 0xA5, 0x5A} {
		if _, err := d.Write([]byte{b}); err != nil {
			t.Fatalf("Write(%x): %v", b, err)
		}
	}
	if _, err := d.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, 6)
	if _, err := io.ReadFull(d, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []byte{0x00, 0x0F, 0xF0, 0xFF, 0xA5, 0x5A}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestDeviceCapacityRejectsTooSmallCarrier(t *testing.T) {
	p := bmpProvider(t, 2, 2)
	if _, err := New(p, "pw", false, false); err != ErrPayloadExtraction {
		t.Fatalf("expected ErrPayloadExtraction for an undersized carrier, got %v", err)
	}
}

// TestDeviceRejects1x1BMP matches the 1x1-pixel white BMP scenario: 54
// byte header plus 3 pixel bytes plus 1 pad byte gives only 3
// steganographic cells, far short of one nybble span (15), let alone the
// 270 cells a zero-length trailer alone would need.
func TestDeviceRejects1x1BMP(t *testing.T) {
	p := bmpProvider(t, 1, 1)
	if _, err := New(p, "p", false, false); err != ErrPayloadExtraction {
		t.Fatalf("expected ErrPayloadExtraction for a 1x1 carrier, got %v", err)
	}
}

// TestDevice200x200BMPCapacityAndRoundTrip matches the 200x200 BMP
// scenario: capacity works out to exactly (200*200*3)/30 - 9 = 3991, and a
// short write survives a commit/reopen cycle byte-identical.
func TestDevice200x200BMPCapacityAndRoundTrip(t *testing.T) {
	p := bmpProvider(t, 200, 200)
	d, err := New(p, "p", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Capacity() != 3991 {
		t.Fatalf("Capacity() = %d, want 3991", d.Capacity())
	}
	if _, err := d.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	image, err := d.CommitToMemory()
	if err != nil {
		t.Fatalf("CommitToMemory: %v", err)
	}

	reloadedProvider, err := bmpcarrier.New(image)
	if err != nil {
		t.Fatalf("reload provider: %v", err)
	}
	d2, err := New(reloadedProvider, "p", true, true)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if d2.Capacity() != 3991 {
		t.Fatalf("reopened Capacity() = %d, want 3991", d2.Capacity())
	}
	if d2.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", d2.Size())
	}
	got := make([]byte, 5)
	if _, err := io.ReadFull(d2, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestDeviceWriteStopsAtCapacity(t *testing.T) {
	p := bmpProvider(t, 40, 30)
	d, err := New(p, "pw", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	big := make([]byte, d.Capacity()+10)
	n, err := d.Write(big)
	if err != io.ErrShortWrite {
		t.Fatalf("expected io.ErrShortWrite, got %v", err)
	}
	if int64(n) != d.Capacity() {
		t.Fatalf("wrote %d bytes, want exactly capacity %d", n, d.Capacity())
	}
}
