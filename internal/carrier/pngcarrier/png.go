// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package pngcarrier implements the carrier.Provider contract over
// non-palette PNG images of bit depth >= 8, ported from the original's
// png_provider. Unlike the original (which drove libpng directly), this
// package parses and rebuilds PNG chunks itself so that ancillary chunks
// survive a write byte-for-byte: stdlib image/png decodes straight to an
// image.Image and has no chunk-preserving re-encode path.
package pngcarrier

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"

	"github.com/zanicar/steganofs/internal/carrier"
)

func init() {
	carrier.Register("PNG", load)
}

var signature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

const saltSize = 8

type chunk struct {
	typ  [4]byte
	data []byte
}

// Provider is a carrier.Provider over a PNG image's decompressed,
// unfiltered scanline bytes.
type Provider struct {
	chunks   []chunk
	idatIdx  int // index into chunks of the first IDAT, replaced on commit
	width    uint32
	height   uint32
	bitDepth byte
	colorType byte
	stride   uint64 // bytes per unfiltered scanline
	bpp      int    // bytes per pixel, for filter reconstruction
	pix      []byte // flat height*stride raw sample bytes
}

func load(data []byte) (carrier.Provider, bool, error) {
	if !carrier.HasPrefix(data, signature) {
		return nil, false, nil
	}
	p, err := New(data)
	return p, true, err
}

// New parses data as a PNG and returns a Provider over its raw pixel
// samples.
func New(data []byte) (*Provider, error) {
	if len(data) < len(signature)+8 {
		return nil, fmt.Errorf("%w: PNG too short", carrier.ErrInvalidCarrier)
	}
	p := &Provider{idatIdx: -1}

	rest := data[len(signature):]
	var idat bytes.Buffer
	var haveIHDR bool
	var interlace byte

	for len(rest) >= 8 {
		length := binary.BigEndian.Uint32(rest[0:4])
		var typ [4]byte
		copy(typ[:], rest[4:8])
		if uint64(8+length+4) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: truncated PNG chunk %q", carrier.ErrInvalidCarrier, typ)
		}
		body := rest[8 : 8+length]

		switch string(typ[:]) {
		case "IHDR":
			if len(body) < 13 {
				return nil, fmt.Errorf("%w: short IHDR", carrier.ErrInvalidCarrier)
			}
			p.width = binary.BigEndian.Uint32(body[0:4])
			p.height = binary.BigEndian.Uint32(body[4:8])
			p.bitDepth = body[8]
			p.colorType = body[9]
			interlace = body[12]
			haveIHDR = true
		case "IDAT":
			idat.Write(body)
			if p.idatIdx < 0 {
				p.idatIdx = len(p.chunks)
			}
			rest = rest[8+length+4:]
			continue
		}

		p.chunks = append(p.chunks, chunk{typ: typ, data: append([]byte(nil), body...)})
		rest = rest[8+length+4:]
	}

	if !haveIHDR {
		return nil, fmt.Errorf("%w: missing IHDR", carrier.ErrInvalidCarrier)
	}
	if p.bitDepth < 8 {
		return nil, fmt.Errorf("%w: PNG bit depth %d too small for steganography", carrier.ErrInvalidCarrier, p.bitDepth)
	}
	if p.colorType&1 != 0 {
		return nil, fmt.Errorf("%w: palette PNGs are not supported", carrier.ErrInvalidCarrier)
	}
	if interlace != 0 {
		return nil, fmt.Errorf("%w: interlaced PNGs are not supported", carrier.ErrInvalidCarrier)
	}
	if idat.Len() == 0 {
		return nil, fmt.Errorf("%w: PNG has no IDAT data", carrier.ErrInvalidCarrier)
	}

	channels := channelCount(p.colorType)
	sampleBytes := int(p.bitDepth) / 8
	p.bpp = channels * sampleBytes
	p.stride = uint64(p.width) * uint64(p.bpp)

	zr, err := zlib.NewReader(&idat)
	if err != nil {
		return nil, fmt.Errorf("%w: IDAT zlib: %v", carrier.ErrInvalidCarrier, err)
	}
	filtered, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: IDAT inflate: %v", carrier.ErrInvalidCarrier, err)
	}
	zr.Close()

	p.pix, err = unfilter(filtered, int(p.height), int(p.stride), p.bpp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", carrier.ErrInvalidCarrier, err)
	}

	log.Printf("pngcarrier: loaded %dx%d PNG, color type %d, %d cells", p.width, p.height, p.colorType, p.Size())
	return p, nil
}

func channelCount(colorType byte) int {
	switch colorType {
	case 0:
		return 1 // grayscale
	case 2:
		return 3 // truecolor
	case 4:
		return 2 // grayscale + alpha
	case 6:
		return 4 // truecolor + alpha
	default:
		return 1
	}
}

// Size returns total raw pixel bytes divided by bytes-per-sample, matching
// the original's png_provider::size(). For 8-bit images every sample byte
// is its own cell; for 16-bit images this is the count of 16-bit samples,
// and At/ToggleLSB address the high-order byte of each sample — an
// implementation-defined but stable choice, carried forward from the
// original for compatibility.
func (p *Provider) Size() carrier.Index {
	sampleBytes := int(p.bitDepth) / 8
	return carrier.Index(len(p.pix) / sampleBytes)
}

func (p *Provider) adjust(i carrier.Index) uint64 {
	return uint64(i) * uint64(p.bitDepth/8)
}

func (p *Provider) At(i carrier.Index) byte {
	return p.pix[p.adjust(i)]
}

func (p *Provider) ToggleLSB(i carrier.Index) {
	p.pix[p.adjust(i)] ^= 1
}

// Salt samples one sample-cell per row at index i*width+i%width (width in
// pixels, not samples-per-row), for i in [0, height). This deliberately
// ignores channel count and revisits columns on narrow images — preserved
// literally from the original for salt compatibility.
func (p *Provider) Salt() []byte {
	salt := make([]byte, saltSize)
	w := uint64(p.width)
	for i := uint64(0); i < uint64(p.height); i++ {
		idx := carrier.Index(i*w + i%w)
		if idx >= p.Size() {
			continue
		}
		salt[i%saltSize] += p.At(idx) >> 1
	}
	return salt
}

func (p *Provider) CommitToMemory() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(signature)

	filtered := refilterNone(p.pix, int(p.height), int(p.stride))
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(filtered); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	idat := chunk{typ: [4]byte{'I', 'D', 'A', 'T'}, data: compressed.Bytes()}

	chunks := make([]chunk, 0, len(p.chunks)+1)
	inserted := false
	for i, c := range p.chunks {
		if i == p.idatIdx {
			chunks = append(chunks, idat)
			inserted = true
		}
		chunks = append(chunks, c)
	}
	if !inserted {
		chunks = append(chunks, idat)
	}

	for _, c := range chunks {
		writeChunk(&buf, c.typ, c.data)
	}
	return buf.Bytes(), nil
}

func (p *Provider) CommitToFile(path string) error {
	data, err := p.CommitToMemory()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeChunk(w *bytes.Buffer, typ [4]byte, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	w.Write(lenBuf[:])
	w.Write(typ[:])
	w.Write(data)
	crc := crc32.NewIEEE()
	crc.Write(typ[:])
	crc.Write(data)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc.Sum32())
	w.Write(crcBuf[:])
}

func unfilter(filtered []byte, height, stride, bpp int) ([]byte, error) {
	out := make([]byte, height*stride)
	rowIn := stride + 1
	if len(filtered) < height*rowIn {
		return nil, fmt.Errorf("pngcarrier: short IDAT data (have %d bytes, need %d)", len(filtered), height*rowIn)
	}
	var prior []byte
	for y := 0; y < height; y++ {
		row := filtered[y*rowIn : y*rowIn+rowIn]
		filterType := row[0]
		cur := out[y*stride : (y+1)*stride]
		copy(cur, row[1:])
		for x := 0; x < stride; x++ {
			var a, b, c byte
			if x >= bpp {
				a = cur[x-bpp]
			}
			if prior != nil {
				b = prior[x]
				if x >= bpp {
					c = prior[x-bpp]
				}
			}
			switch filterType {
			case 0: // None
			case 1: // Sub
				cur[x] += a
			case 2: // Up
				cur[x] += b
			case 3: // Average
				cur[x] += byte((int(a) + int(b)) / 2)
			case 4: // Paeth
				cur[x] += paeth(a, b, c)
			default:
				return nil, fmt.Errorf("pngcarrier: unknown filter type %d", filterType)
			}
		}
		prior = cur
	}
	return out, nil
}

// refilterNone re-serializes raw scanlines using filter type 0 (None) for
// every row. This trades IDAT compactness for simplicity: a real encoder
// picks the best filter per row, but None round-trips losslessly and is a
// valid PNG filter choice.
func refilterNone(pix []byte, height, stride int) []byte {
	out := make([]byte, height*(stride+1))
	for y := 0; y < height; y++ {
		dst := out[y*(stride+1) : (y+1)*(stride+1)]
		dst[0] = 0
		copy(dst[1:], pix[y*stride:(y+1)*stride])
	}
	return out
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
