// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package jpegcarrier implements the carrier.Provider contract over
// baseline (SOF0), non-restart-interval JPEG files, exposing each DCT
// coefficient's low-order byte as a steganographic cell. Ported from the
// original's jpeg_provider, which drove libjpeg's virtual coefficient
// arrays directly; here the marker stream, Huffman entropy coding and
// coefficient storage are all implemented from scratch, since no example
// dependency exposes raw, lossless, rewritable DCT coefficients.
//
// Progressive and arithmetic-coded JPEGs, 12-bit precision, and restart
// intervals are rejected outright (ErrInvalidCarrier) rather than
// supported: a faithful restart-marker re-encode needs exact byte-offset
// bookkeeping for RSTn insertion that earns little for a steganographic
// carrier. This mirrors the pngcarrier package's interlace rejection.
package jpegcarrier

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"os"

	"github.com/zanicar/steganofs/internal/carrier"
)

func init() {
	carrier.Register("JPG", load)
}

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOF0 = 0xC0
	markerSOF2 = 0xC2
	markerDHT  = 0xC4
	markerDQT  = 0xDB
	markerDRI  = 0xDD
	markerSOS  = 0xDA
	markerCOM  = 0xFE
	markerRST0 = 0xD0
	markerRST7 = 0xD7

	blockSize  = 64 // DCTSIZE2
	saltSize   = 8
)

type component struct {
	id        byte
	h, v      byte
	quantSel  byte
	dcTableID byte
	acTableID byte

	widthInBlocks  int
	heightInBlocks int
}

// segment is a verbatim, order-preserving marker the codec does not need
// to interpret: APPn, COM, DQT. Re-emitted unchanged on commit.
type segment struct {
	marker byte
	data   []byte
}

// Provider is a carrier.Provider over a baseline JPEG's DCT coefficients.
type Provider struct {
	precedingSegments []segment // every uninterpreted marker segment, in file order; all re-emitted before SOF0
	sofData           []byte    // raw SOF0 payload (width/height/components), unchanged
	width, height     int
	components        []component
	dhts              []huffTable // original decode tables, kept only for reference
	sosHeader         []byte      // raw SOS payload (component selectors etc)

	coeffs  [][]int16 // per component, widthInBlocks*heightInBlocks*blockSize coefficients in zigzag order
	compSz  []carrier.Index
	totalSz carrier.Index

	mcusPerLine, mcusPerCol int
}

func load(data []byte) (carrier.Provider, bool, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, false, nil
	}
	p, err := New(data)
	return p, true, err
}

// New parses data as a baseline JPEG and returns a Provider over its DCT
// coefficients.
func New(data []byte) (*Provider, error) {
	p := &Provider{}
	if err := p.parse(data); err != nil {
		return nil, err
	}
	log.Printf("jpegcarrier: loaded %dx%d baseline JPEG, %d components, %d cells", p.width, p.height, len(p.components), p.totalSz)
	return p, nil
}

func (p *Provider) parse(data []byte) error {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return fmt.Errorf("%w: missing JPEG SOI marker", carrier.ErrInvalidCarrier)
	}
	r := data[2:]
	var haveSOF, sawDRI bool
	var dcTables, acTables [4]*huffTable

	for {
		marker, payload, rest, err := readMarkerSegment(r)
		if err != nil {
			return fmt.Errorf("%w: %v", carrier.ErrInvalidCarrier, err)
		}
		r = rest

		switch marker {
		case markerSOF2:
			return fmt.Errorf("%w: progressive JPEGs are not supported", carrier.ErrInvalidCarrier)
		case markerSOF0:
			if err := p.parseSOF(payload); err != nil {
				return fmt.Errorf("%w: %v", carrier.ErrInvalidCarrier, err)
			}
			p.sofData = payload
			haveSOF = true
		case markerDHT:
			tables, err := parseDHT(payload)
			if err != nil {
				return fmt.Errorf("%w: %v", carrier.ErrInvalidCarrier, err)
			}
			for _, t := range tables {
				t := t // avoid aliasing the loop variable across iterations
				p.dhts = append(p.dhts, t)
				if t.class == 0 {
					dcTables[t.id] = &t
				} else {
					acTables[t.id] = &t
				}
			}
		case markerDRI:
			if len(payload) >= 2 && binary.BigEndian.Uint16(payload) != 0 {
				sawDRI = true
			}
		case markerSOS:
			if !haveSOF {
				return fmt.Errorf("%w: SOS before SOF", carrier.ErrInvalidCarrier)
			}
			if sawDRI {
				return fmt.Errorf("%w: restart intervals are not supported", carrier.ErrInvalidCarrier)
			}
			p.sosHeader = payload
			entropy, after, err := splitEntropyData(r)
			if err != nil {
				return fmt.Errorf("%w: %v", carrier.ErrInvalidCarrier, err)
			}
			if err := p.decodeScan(payload, entropy, dcTables, acTables); err != nil {
				return fmt.Errorf("%w: %v", carrier.ErrInvalidCarrier, err)
			}
			r = after
		case markerEOI:
			return p.finalizeSizes()
		default:
			// APPn, COM, DQT and any other marker we don't interpret:
			// preserved verbatim regardless of where it falls relative to
			// SOF0, and re-emitted (ahead of the rebuilt DHTs) on commit.
			p.precedingSegments = append(p.precedingSegments, segment{marker: marker, data: payload})
		}

		if len(r) == 0 {
			return fmt.Errorf("%w: truncated JPEG (no EOI)", carrier.ErrInvalidCarrier)
		}
	}
}

func (p *Provider) finalizeSizes() error {
	if p.coeffs == nil {
		return fmt.Errorf("%w: JPEG has no scan data", carrier.ErrInvalidCarrier)
	}
	p.compSz = make([]carrier.Index, len(p.components))
	for i, c := range p.components {
		p.compSz[i] = carrier.Index(c.widthInBlocks * c.heightInBlocks * blockSize)
		p.totalSz += p.compSz[i]
	}
	return nil
}

func readMarkerSegment(r []byte) (marker byte, payload []byte, rest []byte, err error) {
	for len(r) >= 2 && r[0] != 0xFF {
		r = r[1:]
	}
	for len(r) >= 2 && r[0] == 0xFF && r[1] == 0xFF {
		r = r[1:]
	}
	if len(r) < 2 || r[0] != 0xFF {
		return 0, nil, nil, fmt.Errorf("expected marker, found none")
	}
	marker = r[1]
	r = r[2:]
	if marker == markerSOI || marker == markerEOI || (marker >= markerRST0 && marker <= markerRST7) {
		return marker, nil, r, nil
	}
	if len(r) < 2 {
		return 0, nil, nil, fmt.Errorf("truncated marker segment")
	}
	length := int(binary.BigEndian.Uint16(r[:2]))
	if length < 2 || length-2 > len(r)-2 {
		return 0, nil, nil, fmt.Errorf("invalid marker segment length")
	}
	payload = r[2 : length]
	return marker, payload, r[length:], nil
}

func (p *Provider) parseSOF(payload []byte) error {
	if len(payload) < 6 {
		return fmt.Errorf("short SOF0 segment")
	}
	precision := payload[0]
	if precision != 8 {
		return fmt.Errorf("unsupported sample precision %d", precision)
	}
	p.height = int(binary.BigEndian.Uint16(payload[1:3]))
	p.width = int(binary.BigEndian.Uint16(payload[3:5]))
	numComp := int(payload[5])
	if len(payload) < 6+numComp*3 {
		return fmt.Errorf("short SOF0 component list")
	}
	var hmax, vmax byte
	comps := make([]component, numComp)
	for i := 0; i < numComp; i++ {
		b := payload[6+i*3:]
		comps[i] = component{
			id:       b[0],
			h:        b[1] >> 4,
			v:        b[1] & 0x0F,
			quantSel: b[2],
		}
		if comps[i].h > hmax {
			hmax = comps[i].h
		}
		if comps[i].v > vmax {
			vmax = comps[i].v
		}
	}
	p.mcusPerLine = (p.width + 8*int(hmax) - 1) / (8 * int(hmax))
	p.mcusPerCol = (p.height + 8*int(vmax) - 1) / (8 * int(vmax))
	for i := range comps {
		comps[i].widthInBlocks = p.mcusPerLine * int(comps[i].h)
		comps[i].heightInBlocks = p.mcusPerCol * int(comps[i].v)
	}
	p.components = comps
	return nil
}

// forEachBlock visits every block of every scan in true MCU-interleaved
// order: for each MCU (row-major over the MCU grid), for each component in
// SOF order, for each of that component's sampling-factor blocks within
// the MCU (row-major). Decode, frequency counting and encode all share
// this traversal so table statistics and entropy coding stay consistent
// with each other.
func (p *Provider) forEachBlock(fn func(comp, blockRow, blockCol int)) {
	for mcuRow := 0; mcuRow < p.mcusPerCol; mcuRow++ {
		for mcuCol := 0; mcuCol < p.mcusPerLine; mcuCol++ {
			for c := range p.components {
				h := int(p.components[c].h)
				v := int(p.components[c].v)
				for by := 0; by < v; by++ {
					for bx := 0; bx < h; bx++ {
						fn(c, mcuRow*v+by, mcuCol*h+bx)
					}
				}
			}
		}
	}
}

// CommitToMemory re-serializes the JPEG: unchanged header segments and
// quantization tables, freshly optimized Huffman tables built from the
// actual (possibly steganographically modified) coefficient data, and a
// freshly entropy-coded scan. This mirrors the original's
// jpeg_write_coefficients + optimize_coding path: coefficients are never
// re-quantized, only re-entropy-coded.
func (p *Provider) CommitToMemory() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, markerSOI})
	for _, s := range p.precedingSegments {
		writeMarkerSegment(&buf, s.marker, s.data)
	}
	writeMarkerSegment(&buf, markerSOF0, p.sofData)

	dcTables, acTables, err := p.buildOptimalTables()
	if err != nil {
		return nil, err
	}
	for id, t := range dcTables {
		writeMarkerSegment(&buf, markerDHT, encodeDHT(0, byte(id), t))
	}
	for id, t := range acTables {
		writeMarkerSegment(&buf, markerDHT, encodeDHT(1, byte(id), t))
	}

	writeMarkerSegment(&buf, markerSOS, p.sosHeader)
	entropy, err := p.encodeScan(dcTables, acTables)
	if err != nil {
		return nil, err
	}
	buf.Write(entropy)
	buf.Write([]byte{0xFF, markerEOI})
	return buf.Bytes(), nil
}

func (p *Provider) CommitToFile(path string) error {
	data, err := p.CommitToMemory()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeMarkerSegment(buf *bytes.Buffer, marker byte, payload []byte) {
	buf.Write([]byte{0xFF, marker})
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)+2))
	buf.Write(lenBuf[:])
	buf.Write(payload)
}

// Size returns the total DCT coefficient count across all components.
func (p *Provider) Size() carrier.Index { return p.totalSz }

func (p *Provider) indexToCoords(index carrier.Index) (comp, row, col, block int) {
	for c := range p.components {
		if index < p.compSz[c] {
			comp = c
			break
		}
		index -= p.compSz[c]
	}
	rowSz := p.components[comp].widthInBlocks * blockSize
	row = int(index) / rowSz
	col = (int(index) % rowSz) / blockSize
	block = int(index) % blockSize
	return
}

// At returns the low-order byte of the addressed coefficient's in-memory
// 16-bit representation. Only its least significant bit carries
// steganographic meaning, matching the original's reinterpret-cast to the
// platform's low byte of a native int16 (the least significant *bit* of a
// two's complement integer is the same regardless of byte order, so the
// byte value returned here need not match a big-endian machine's memory
// layout for this bit to remain correct).
func (p *Provider) At(i carrier.Index) byte {
	comp, row, col, block := p.indexToCoords(i)
	return byte(p.coeffAt(comp, row, col, block))
}

func (p *Provider) ToggleLSB(i carrier.Index) {
	comp, row, col, block := p.indexToCoords(i)
	v := p.coeffAt(comp, row, col, block)
	p.setCoeffAt(comp, row, col, block, v^1)
}

func (p *Provider) coeffAt(comp, row, col, block int) int16 {
	wib := p.components[comp].widthInBlocks
	return p.coeffs[comp][(row*wib+col)*blockSize+block]
}

func (p *Provider) setCoeffAt(comp, row, col, block int, v int16) {
	wib := p.components[comp].widthInBlocks
	p.coeffs[comp][(row*wib+col)*blockSize+block] = v
}

// Salt samples one coefficient per row-of-blocks at
// (row%widthInBlocks, row%blockSize), independent of the actual column
// being iterated — j is reused both as the block row and, reduced modulo
// the component's block width and modulo 64, as the column and
// coefficient-within-block index. Preserved literally from the original
// for salt compatibility.
func (p *Provider) Salt() []byte {
	salt := make([]byte, saltSize)
	idx := 0
	for c := range p.components {
		wib := p.components[c].widthInBlocks
		hib := p.components[c].heightInBlocks
		for j := 0; j < hib; j++ {
			v := p.coeffAt(c, j, j%wib, j%blockSize)
			salt[idx%saltSize] += byte(v >> 1)
			idx++
		}
	}
	return salt
}
