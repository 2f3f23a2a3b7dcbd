// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package carrier defines the capability set every image codec exposes to
// the steganographic device: a flat, indexed array of LSB-bearing cells,
// plus commit and salt operations. Ported from the original's provider_t.
package carrier

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidCarrier is returned when a carrier's header does not match any
// supported format, or a supported format's constraints are violated
// (wrong bit depth, palette color type, unsupported bits-per-pixel, etc).
var ErrInvalidCarrier = errors.New("invalid carrier")

// Index addresses one steganographic cell in [0, Provider.Size()).
type Index = uint64

// Provider is the capability set a carrier format implements. The codec is
// selected once at Load time by header sniffing and never changes
// identity for the lifetime of the value.
type Provider interface {
	// Size returns the number of steganographic cells.
	Size() Index

	// At returns the byte currently stored at cell i. Only its least
	// significant bit carries steganographic meaning.
	At(i Index) byte

	// ToggleLSB flips the least significant bit of cell i, leaving the
	// remaining 7 bits of the cell untouched.
	ToggleLSB(i Index)

	// CommitToMemory serializes the carrier's current state to its image
	// file format.
	CommitToMemory() ([]byte, error)

	// CommitToFile serializes the carrier's current state to path.
	CommitToFile(path string) error

	// Salt returns an 8-byte digest of carrier content that is invariant
	// under steganographic LSB writes.
	Salt() []byte
}

// Loader sniffs a carrier's header and constructs the matching Provider.
// Registered by each codec package's init.
type Loader func(data []byte) (Provider, bool, error)

var loaders []namedLoader

type namedLoader struct {
	name string
	fn   Loader
}

// Register adds a codec loader under the given format name. Codec packages
// call this from an init function; steganofs's root package imports each
// codec package for its side effect.
func Register(name string, fn Loader) {
	loaders = append(loaders, namedLoader{name, fn})
}

// SupportedFormats returns the names of every registered carrier codec, in
// registration order.
func SupportedFormats() []string {
	names := make([]string, len(loaders))
	for i, l := range loaders {
		names[i] = l.name
	}
	return names
}

// Load sniffs data's header against every registered codec and returns the
// matching Provider. It returns ErrInvalidCarrier if no codec's header
// check matches, or the wrapped parse error of the one codec whose header
// matched but whose body failed to parse.
func Load(data []byte) (Provider, error) {
	for _, l := range loaders {
		p, matched, err := l.fn(data)
		if !matched {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s carrier: %w", l.name, err)
		}
		return p, nil
	}
	return nil, ErrInvalidCarrier
}

// LoadFile reads path and loads it as a carrier.
func LoadFile(path string) (Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("carrier: read %s: %w", path, err)
	}
	return Load(data)
}

// HasPrefix reports whether data begins with prefix, tolerating short data.
func HasPrefix(data, prefix []byte) bool {
	return len(data) >= len(prefix) && bytes.Equal(data[:len(prefix)], prefix)
}
