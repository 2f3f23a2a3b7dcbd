// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package steganofs hides an authenticated, encrypted byte stream inside
// the least-significant bits of a BMP, PNG or JPEG image, exposing it as
// a seekable, read/write File. Ported from the original's device_t and its
// authenticated file layer: the stream cipher and MAC are a native layer
// of File itself rather than the ad hoc encryption the teacher's CLI did
// (see DESIGN.md for why that encryption responsibility moved down a
// layer).
package steganofs

import (
	"io"
	"log"

	"github.com/zanicar/steganofs/internal/carrier"
	"github.com/zanicar/steganofs/internal/device"
	"github.com/zanicar/steganofs/internal/kdf"
	"github.com/zanicar/steganofs/internal/mac"
	"github.com/zanicar/steganofs/internal/streamcipher"
)

const macTrailerSize = 32

// File is a seekable, authenticated, encrypted byte stream hidden inside
// a carrier image's LSBs.
type File struct {
	dev    *device.Device
	stream *streamcipher.CTR
	hmac   *mac.HMAC
	mode   Mode
	path   string

	pos    int64
	sz     int64 // logical payload size, excluding the 32-byte MAC trailer
	maxSz  int64
	dirty  bool
	closed bool
}

// Open opens path as a carrier and returns a File over its hidden payload,
// as governed by modeStr (see ParseMode), using kdf.DefaultIterations.
func Open(path, password, modeStr string) (*File, error) {
	return OpenWithIterations(path, password, modeStr, kdf.DefaultIterations)
}

// OpenWithIterations behaves like Open but derives all key material using
// an explicit PBKDF2 iteration count, for callers whose configuration
// overrides the default cost.
func OpenWithIterations(path, password, modeStr string, iterations int) (*File, error) {
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}
	provider, err := carrier.LoadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := newFile(provider, password, iterations, mode)
	if err != nil {
		return nil, err
	}
	f.path = path
	return f, nil
}

// OpenMemory behaves like Open but reads the carrier from an in-memory
// image instead of a file; Flush and Close will not persist to disk.
func OpenMemory(data []byte, password, modeStr string) (*File, error) {
	return OpenMemoryWithIterations(data, password, modeStr, kdf.DefaultIterations)
}

// OpenMemoryWithIterations behaves like OpenMemory with an explicit PBKDF2
// iteration count.
func OpenMemoryWithIterations(data []byte, password, modeStr string, iterations int) (*File, error) {
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}
	provider, err := carrier.Load(data)
	if err != nil {
		return nil, err
	}
	return newFile(provider, password, iterations, mode)
}

func newFile(provider carrier.Provider, password string, iterations int, mode Mode) (*File, error) {
	dev, err := device.NewWithIterations(provider, password, iterations, !mode.Create, !mode.Append)
	if err != nil {
		return nil, err
	}
	if dev.Capacity() < macTrailerSize {
		return nil, ErrPayloadExtraction
	}
	log.Printf("steganofs: carrier loaded, mode %s, payload capacity %d bytes", mode, dev.Capacity()-macTrailerSize)

	keyMaterial := kdf.NewWithIterations(password, dev.SaltForEncryption(), dev.Iterations()).Generate(48)
	stream, err := streamcipher.New(keyMaterial[:32], keyMaterial[32:48])
	if err != nil {
		return nil, err
	}

	f := &File{
		dev:    dev,
		stream: stream,
		hmac:   mac.New([]byte(password)),
		mode:   mode,
		maxSz:  dev.Capacity() - macTrailerSize,
	}

	if mode.Create {
		return f, nil
	}

	f.sz = dev.Size() - macTrailerSize
	if f.sz < 0 {
		f.sz = 0
	}

	computed := f.computeHMAC() // leaves dev/stream positioned at f.sz

	storedCipher := make([]byte, macTrailerSize)
	if _, err := io.ReadFull(f.dev, storedCipher); err != nil {
		if mode.Append {
			f.resetPayload()
			return f, nil
		}
		return nil, ErrHMACVerification
	}
	storedPlain := make([]byte, macTrailerSize)
	f.stream.Crypt(storedPlain, storedCipher)

	if !mac.Equal(computed, storedPlain) {
		if mode.Append {
			f.resetPayload()
			return f, nil
		}
		return nil, ErrHMACVerification
	}

	log.Printf("steganofs: hmac verified, payload size %d bytes", f.sz)

	if mode.Append {
		f.pos = f.sz
	} else {
		f.pos = 0
	}
	f.syncPositions(f.pos)
	return f, nil
}

// resetPayload treats the device's existing payload as unrecoverable: an
// append-mode open over a carrier that fails verification starts from an
// empty, zero-length payload instead of failing.
func (f *File) resetPayload() {
	f.dev.Seek(0, io.SeekStart)
	f.dev.Truncate()
	f.sz = 0
	f.pos = 0
	f.syncPositions(0)
}

// syncPositions seeks both the device and the stream cipher to the same
// absolute byte position, keeping plaintext/ciphertext alignment intact
// across arbitrary random access.
func (f *File) syncPositions(pos int64) {
	f.dev.Seek(pos, io.SeekStart)
	f.stream.Seek(pos)
}

// computeHMAC reads and decrypts device bytes [0, sz) in bounded chunks,
// feeding the plaintext into a fresh HMAC pass, and returns the digest. It
// leaves the device and stream cipher positioned at sz.
func (f *File) computeHMAC() []byte {
	f.syncPositions(0)
	f.hmac.Reset()

	const chunkSize = 4096
	var buf [chunkSize]byte
	remaining := f.sz
	for remaining > 0 {
		n := int64(chunkSize)
		if remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		read, _ := io.ReadFull(f.dev, chunk)
		chunk = chunk[:read]
		f.stream.Crypt(chunk, chunk)
		f.hmac.Update(chunk)
		remaining -= int64(read)
		if int64(read) < n {
			break
		}
	}
	return f.hmac.Final()
}

// Mode returns the mode File was opened with.
func (f *File) Mode() Mode { return f.mode }

// Closed reports whether Close has been called.
func (f *File) Closed() bool { return f.closed }

// EOF reports whether the current position is at or past the logical
// payload size.
func (f *File) EOF() bool { return f.pos >= f.sz }

// Size returns the current logical payload size in bytes.
func (f *File) Size() int64 { return f.sz }

// Capacity returns the maximum logical payload size the carrier can hold.
func (f *File) Capacity() int64 { return f.maxSz }

// Tell returns the current stream position.
func (f *File) Tell() int64 { return f.pos }

// Read implements io.Reader over the decrypted, verified payload.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if f.pos >= f.sz {
		return 0, io.EOF
	}
	n := int64(len(p))
	if avail := f.sz - f.pos; n > avail {
		n = avail
	}
	ciphertext := p[:n]
	read, err := io.ReadFull(f.dev, ciphertext)
	if err != nil && err != io.ErrUnexpectedEOF {
		return read, err
	}
	f.stream.Crypt(p[:read], ciphertext[:read])
	f.pos += int64(read)
	return read, nil
}

// Write implements io.Writer. Append-mode files always seek to the
// current end of the payload first, matching O_APPEND semantics. Writes
// beyond Capacity are short, not an error beyond io.ErrShortWrite.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.mode.Append {
		f.syncPositions(f.sz)
		f.pos = f.sz
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := int64(len(p))
	if avail := f.maxSz - f.pos; n > avail {
		n = avail
	}
	if n <= 0 {
		return 0, io.ErrShortWrite
	}
	ciphertext := make([]byte, n)
	f.stream.Crypt(ciphertext, p[:n])
	written, err := f.dev.Write(ciphertext)
	f.pos += int64(written)
	if f.pos > f.sz {
		f.sz = f.pos
		f.dirty = true
	}
	if err != nil || int64(written) < n || int64(written) < int64(len(p)) {
		return written, io.ErrShortWrite
	}
	return written, nil
}

// Seek implements io.Seeker. Positions are clamped to [0, Size()], not
// Capacity(): unlike the underlying device, the authenticated layer never
// seeks into its own MAC trailer.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = f.sz
	default:
		return f.pos, ErrArgument
	}
	newPos := base + offset
	if newPos < 0 {
		return f.pos, ErrArgument
	}
	if newPos > f.sz {
		newPos = f.sz
	}
	f.syncPositions(newPos)
	f.pos = newPos
	return f.pos, nil
}

// Rewind seeks to the beginning of the payload.
func (f *File) Rewind() error {
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// Truncate sets the payload size to the current position, discarding
// anything beyond it.
func (f *File) Truncate() error {
	if f.closed {
		return ErrClosed
	}
	if f.sz != f.pos {
		f.dirty = true
	}
	f.sz = f.pos
	f.dev.Truncate()
	return nil
}

// TruncateSize sets the payload size to n, clamped to [0, Capacity()],
// independent of the current position.
func (f *File) TruncateSize(n int64) error {
	if f.closed {
		return ErrClosed
	}
	if n < 0 {
		n = 0
	}
	if n > f.maxSz {
		n = f.maxSz
	}
	f.dev.Seek(n, io.SeekStart)
	f.dev.Truncate()
	if f.sz != n {
		f.dirty = true
	}
	f.sz = n
	if f.pos > f.sz {
		f.pos = f.sz
	}
	f.syncPositions(f.pos)
	return nil
}

// Flush recomputes and re-encrypts the MAC trailer if there are unwritten
// changes, then commits the carrier to its backing storage.
func (f *File) Flush() error {
	if f.closed {
		return ErrClosed
	}
	if !f.dirty {
		return nil
	}
	savedPos := f.pos

	digest := f.computeHMAC() // leaves dev/stream at f.sz
	encrypted := make([]byte, macTrailerSize)
	f.stream.Crypt(encrypted, digest)
	if _, err := f.dev.Write(encrypted); err != nil {
		return err
	}
	if err := f.dev.Flush(); err != nil {
		return err
	}

	var err error
	if f.path != "" {
		err = f.dev.CommitToFile(f.path)
	}
	f.dirty = false
	f.syncPositions(savedPos)
	f.pos = savedPos
	log.Printf("steganofs: committed %d payload bytes", f.sz)
	return err
}

// CommitToMemory flushes pending changes and returns the carrier's
// serialized image bytes, regardless of whether File was opened from a
// path or from memory.
func (f *File) CommitToMemory() ([]byte, error) {
	if err := f.Flush(); err != nil && err != ErrClosed {
		return nil, err
	}
	return f.dev.CommitToMemory()
}

// Close flushes pending changes and marks the File unusable for further
// I/O.
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	err := f.Flush()
	f.closed = true
	return err
}
