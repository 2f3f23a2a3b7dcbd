// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package bmpcarrier implements the carrier.Provider contract over 24-bit
// BMP images, ported from the original's bmp_provider. Data offset, width
// and height are read little-endian straight out of the BITMAPFILEHEADER
// and BITMAPINFOHEADER; other BMP sub-formats (paletted, RLE-compressed,
// <24bpp) are rejected since they leave little usable LSB noise.
package bmpcarrier

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"

	"github.com/zanicar/steganofs/internal/carrier"
)

func init() {
	carrier.Register("BMP", load)
}

const (
	headerMinSize  = 54
	offsetDataOff  = 10
	offsetWidth    = 18
	offsetHeight   = 22
	offsetBitsPP   = 28
	saltSize       = 8
)

// Provider is a carrier.Provider over a 24-bit BMP file buffer.
type Provider struct {
	file     []byte
	dataOff  uint32
	rowSize  uint64 // bytes per row, unpadded (width*3)
	rowCount uint64
	slack    uint64 // row padding bytes
}

func load(data []byte) (carrier.Provider, bool, error) {
	if !carrier.HasPrefix(data, []byte("BM")) {
		return nil, false, nil
	}
	p, err := New(data)
	return p, true, err
}

// New parses data as a 24-bit BMP and returns a Provider over it. New
// takes ownership of data's backing array: callers must not mutate it
// afterward.
func New(data []byte) (*Provider, error) {
	if len(data) < headerMinSize {
		return nil, fmt.Errorf("%w: BMP header too short", carrier.ErrInvalidCarrier)
	}
	header := data[:headerMinSize]

	bitsPerPixel := binary.LittleEndian.Uint16(header[offsetBitsPP:])
	if bitsPerPixel != 24 {
		return nil, fmt.Errorf("%w: unsupported BMP bit depth %d (only 24-bit supported)", carrier.ErrInvalidCarrier, bitsPerPixel)
	}

	dataOffset := binary.LittleEndian.Uint32(header[offsetDataOff:])
	width := binary.LittleEndian.Uint32(header[offsetWidth:])
	height := binary.LittleEndian.Uint32(header[offsetHeight:])

	rowSize := uint64(width) * 3
	rowCount := uint64(height)
	var slack uint64
	if rowSize%4 != 0 {
		slack = 4 - rowSize%4
	}

	if uint64(dataOffset)+rowCount*(rowSize+slack) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: BMP pixel data extends past end of file", carrier.ErrInvalidCarrier)
	}

	log.Printf("bmpcarrier: loaded %dx%d 24-bit BMP, %d cells", width, height, rowSize*rowCount)
	return &Provider{
		file:     data,
		dataOff:  dataOffset,
		rowSize:  rowSize,
		rowCount: rowCount,
		slack:    slack,
	}, nil
}

// Size returns width*3*height steganographic cells (one per color byte).
func (p *Provider) Size() carrier.Index {
	return carrier.Index(p.rowSize * p.rowCount)
}

func (p *Provider) physical(i carrier.Index) uint64 {
	if p.slack == 0 {
		return uint64(p.dataOff) + uint64(i)
	}
	row := uint64(i) / p.rowSize
	col := uint64(i) % p.rowSize
	return uint64(p.dataOff) + row*(p.rowSize+p.slack) + col
}

func (p *Provider) At(i carrier.Index) byte {
	return p.file[p.physical(i)]
}

func (p *Provider) ToggleLSB(i carrier.Index) {
	p.file[p.physical(i)] ^= 1
}

func (p *Provider) CommitToMemory() ([]byte, error) {
	return p.file, nil
}

func (p *Provider) CommitToFile(path string) error {
	return os.WriteFile(path, p.file, 0o644)
}

// Salt samples one cell per row at column (row mod rowSize), drops its
// LSB, and accumulates modulo 256 into salt byte (row mod 8). This
// deliberately revisits the same physical columns for small images — see
// the preserve-literally note for BMP carriers; the loop must stay exactly
// this shape for the derived keys to remain stable across versions.
func (p *Provider) Salt() []byte {
	salt := make([]byte, saltSize)
	for i := uint64(0); i < p.rowCount; i++ {
		idx := carrier.Index(i*p.rowSize + i%p.rowSize)
		salt[i%saltSize] += p.At(idx) >> 1
	}
	return salt
}
