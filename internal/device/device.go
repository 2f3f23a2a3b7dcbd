// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package device implements the steganographic byte-stream abstraction
// that sits directly on top of a carrier.Provider: a keyed, shuffled,
// nybble-redundant encoding of a variable-length payload inside a
// carrier's LSBs, ported from the original's device_t.
//
// Every payload byte occupies 30 carrier cells (15 per nybble). Within a
// nybble's 15 cells, the stored value is the XOR of the indices i in
// [1,15] whose cell's LSB is set — so changing the nybble from one value
// to another only ever needs to flip a single cell. A 9-byte, 7-bit
// continuation-encoded varint trailer stores the payload length, written
// from the high end of the usable range downward.
package device

import (
	"errors"
	"io"
	"log"

	"github.com/zanicar/steganofs/internal/carrier"
	"github.com/zanicar/steganofs/internal/kdf"
	"github.com/zanicar/steganofs/internal/permute"
)

// ErrPayloadExtraction is returned when an existing payload's length
// trailer cannot be recovered (corrupt data, wrong password, or a carrier
// too small to ever have held one).
var ErrPayloadExtraction = errors.New("device: invalid payload data")

// ErrInvalidSeek is returned by Seek when the computed position would be
// negative.
var ErrInvalidSeek = errors.New("device: invalid seek to negative position")

const (
	maxLengthSize  = 9  // bytes reserved for the trailing varint payload length
	nybbleSpan     = 15 // carrier cells per nybble
	byteSpan       = nybbleSpan * 2
	shufflerKeyLen = 16 // AES-128 key for the permutator
)

// Device is a seekable, flushable byte stream hidden inside a
// carrier.Provider's LSBs. It is not safe for concurrent use.
type Device struct {
	provider carrier.Provider
	shuffler *permute.Context

	iterations int
	maxSz      int64
	payloadSz  int64
	pos        int64
	dirty      bool
}

// New builds a Device over provider, keyed by password, using
// kdf.DefaultIterations. If openExisting is true, the existing payload
// length trailer is read back; if that fails and throwOnOpenExistingFail
// is true, New returns ErrPayloadExtraction, otherwise the device opens
// with a zero-length payload.
func New(provider carrier.Provider, password string, openExisting, throwOnOpenExistingFail bool) (*Device, error) {
	return NewWithIterations(provider, password, kdf.DefaultIterations, openExisting, throwOnOpenExistingFail)
}

// NewWithIterations behaves like New but derives the shuffler key using an
// explicit PBKDF2 iteration count, for callers whose configuration
// overrides the default cost.
func NewWithIterations(provider carrier.Provider, password string, iterations int, openExisting, throwOnOpenExistingFail bool) (*Device, error) {
	size := provider.Size()
	shufflerKey := kdf.NewWithIterations(password, kdf.ShufflerSalt(provider.Salt()), iterations).Generate(shufflerKeyLen)
	shuffler, err := permute.New(size/nybbleSpan, shufflerKey)
	if err != nil {
		return nil, err
	}

	d := &Device{
		provider:   provider,
		shuffler:   shuffler,
		iterations: iterations,
		maxSz:      int64(size)/byteSpan - maxLengthSize,
	}
	if d.maxSz <= 0 {
		return nil, ErrPayloadExtraction
	}
	log.Printf("device: shuffler key derived, capacity %d bytes", d.maxSz)

	if openExisting {
		sz, err := d.readPayloadLength(throwOnOpenExistingFail)
		if err != nil {
			if throwOnOpenExistingFail {
				return nil, err
			}
			sz = 0
		}
		d.payloadSz = sz
	}
	if d.payloadSz > d.maxSz {
		if throwOnOpenExistingFail {
			return nil, ErrPayloadExtraction
		}
		d.payloadSz = 0
	}
	return d, nil
}

// Size returns the current payload length in bytes.
func (d *Device) Size() int64 { return d.payloadSz }

// Capacity returns the maximum payload length the carrier can hold.
func (d *Device) Capacity() int64 { return d.maxSz }

// Tell returns the current stream position.
func (d *Device) Tell() int64 { return d.pos }

// SaltForEncryption returns the carrier salt used to derive the stream
// cipher's key and IV, distinct from the salt that keys the shuffler.
func (d *Device) SaltForEncryption() []byte {
	return kdf.DeviceSalt(d.provider.Salt())
}

// Iterations returns the PBKDF2 iteration count this device was opened
// with, so callers deriving further key material from the same password
// (the authenticated layer's stream cipher key and IV) use a matching
// cost.
func (d *Device) Iterations() int {
	return d.iterations
}

// Read implements io.Reader: at most len(p) bytes, or up to the current
// payload length, whichever is smaller; io.EOF once the position is at or
// past the payload length.
func (d *Device) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if d.pos >= d.payloadSz {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && d.pos < d.payloadSz {
		p[n] = d.getByte(d.pos)
		d.pos++
		n++
	}
	return n, nil
}

// Write implements io.Writer: writes stop at the carrier's capacity, not
// at the end of the current payload, and grow the payload length as
// needed. Returns io.ErrShortWrite if capacity was reached before all of
// p was written.
func (d *Device) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if d.pos >= d.maxSz {
		return 0, io.ErrShortWrite
	}
	n := 0
	for n < len(p) && d.pos < d.maxSz {
		d.putByte(p[n], d.pos)
		d.pos++
		n++
	}
	if d.pos > d.payloadSz {
		d.payloadSz = d.pos
		d.dirty = true
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Seek implements io.Seeker. Seeking past the carrier's capacity clamps to
// it rather than erroring; seeking to a negative position fails.
func (d *Device) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = d.pos
	case io.SeekEnd:
		base = d.payloadSz
	default:
		base = 0
	}
	newPos := base + offset
	if newPos < 0 {
		return d.pos, ErrInvalidSeek
	}
	if newPos > d.maxSz {
		newPos = d.maxSz
	}
	d.pos = newPos
	return d.pos, nil
}

// Truncate sets the payload length to the current position, discarding
// whatever came after it.
func (d *Device) Truncate() int64 {
	if d.payloadSz != d.pos {
		d.dirty = true
	}
	d.payloadSz = d.pos
	return d.payloadSz
}

// Dirty reports whether the device has unflushed writes.
func (d *Device) Dirty() bool { return d.dirty }

// Flush writes the payload length trailer (if dirty) and clears the dirty
// flag. It does not itself persist the carrier to disk or memory — callers
// use CommitToFile/CommitToMemory for that, mirroring the provider split.
func (d *Device) Flush() error {
	if !d.dirty {
		return nil
	}
	if err := d.writePayloadLength(); err != nil {
		return err
	}
	d.dirty = false
	log.Printf("device: payload length trailer written, size %d bytes", d.payloadSz)
	return nil
}

// CommitToFile flushes pending writes and serializes the carrier to path.
func (d *Device) CommitToFile(path string) error {
	if err := d.Flush(); err != nil {
		return err
	}
	return d.provider.CommitToFile(path)
}

// CommitToMemory flushes pending writes and serializes the carrier to an
// in-memory image.
func (d *Device) CommitToMemory() ([]byte, error) {
	if err := d.Flush(); err != nil {
		return nil, err
	}
	return d.provider.CommitToMemory()
}

// getByte decodes the byte stored at payload position pos via the
// nybble-redundancy scheme: low nybble from shuffler cell group 2*pos,
// high nybble from group 2*pos+1.
func (d *Device) getByte(pos int64) byte {
	lo, _ := d.getNybble(pos, 0)
	hi, _ := d.getNybble(pos, 1)
	return hi<<4 | lo
}

// getNybble decodes one nybble (half is 0 for low, 1 for high) and
// returns both the decoded value and the starting carrier cell index of
// its 15-cell group, for reuse by putByte.
func (d *Device) getNybble(pos int64, half int) (byte, carrier.Index) {
	start := carrier.Index(d.shuffler.Encrypt(permute.Index(pos)*2+permute.Index(half))) * nybbleSpan
	var v byte
	for i := carrier.Index(1); i <= nybbleSpan; i++ {
		if d.provider.At(start+i-1)&1 != 0 {
			v ^= byte(i)
		}
	}
	return v, start
}

func (d *Device) putByte(b byte, pos int64) {
	loVal, loStart := d.getNybble(pos, 0)
	hiVal, hiStart := d.getNybble(pos, 1)
	bl, bh := b&0x0F, b>>4

	if bl != loVal {
		d.provider.ToggleLSB(loStart + carrier.Index(bl^loVal) - 1)
		d.dirty = true
	}
	if bh != hiVal {
		d.provider.ToggleLSB(hiStart + carrier.Index(bh^hiVal) - 1)
		d.dirty = true
	}
}

// readPayloadLength reads the 9-byte varint trailer stored in the last
// maxLengthSize payload-byte slots, starting at the highest slot and moving
// down; the first byte read holds the least significant 7 bits, and bit 7
// of each byte is a continuation flag.
func (d *Device) readPayloadLength(throwOnFail bool) (int64, error) {
	pos := d.maxSz + maxLengthSize - 1
	var sz int64
	var shift uint
	for {
		if shift+7 > 64 {
			if throwOnFail {
				return 0, ErrPayloadExtraction
			}
			return 0, nil
		}
		b := d.getByte(pos)
		pos--
		sz |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	return sz, nil
}

func (d *Device) writePayloadLength() error {
	if d.payloadSz < 0 {
		return ErrPayloadExtraction
	}
	pos := d.maxSz + maxLengthSize - 1
	sz := d.payloadSz
	for {
		b := byte(sz & 0x7F)
		sz >>= 7
		if sz > 0 {
			b |= 0x80
		}
		d.putByte(b, pos)
		pos--
		if sz <= 0 {
			break
		}
	}
	return nil
}
