// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package jpegcarrier

import (
	"bytes"
	"fmt"
)

// splitEntropyData locates the end of an entropy-coded scan: the first
// 0xFF byte not immediately followed by 0x00 (a stuffed literal 0xFF).
// Restart markers are not skipped: restart intervals are rejected earlier,
// at parse time, so any 0xFF followed by a non-zero byte here is taken as
// the next marker.
func splitEntropyData(r []byte) (entropy, rest []byte, err error) {
	for i := 0; i < len(r); i++ {
		if r[i] != 0xFF {
			continue
		}
		if i+1 >= len(r) {
			return nil, nil, fmt.Errorf("truncated entropy-coded scan")
		}
		if r[i+1] == 0x00 {
			i++
			continue
		}
		return r[:i], r[i:], nil
	}
	return nil, nil, fmt.Errorf("entropy-coded scan has no terminating marker")
}

// bitReader reads MSB-first bits out of a byte-stuffed entropy segment,
// transparently undoing 0xFF 0x00 -> 0xFF stuffing.
type bitReader struct {
	data []byte
	pos  int
	cur  byte
	nbit int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) nextByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("entropy stream underrun")
	}
	b := r.data[r.pos]
	r.pos++
	if b == 0xFF {
		if r.pos < len(r.data) && r.data[r.pos] == 0x00 {
			r.pos++
		}
	}
	return b, nil
}

func (r *bitReader) readBit() (int, error) {
	if r.nbit == 0 {
		b, err := r.nextByte()
		if err != nil {
			return 0, err
		}
		r.cur = b
		r.nbit = 8
	}
	r.nbit--
	return int(r.cur>>uint(r.nbit)) & 1, nil
}

func (r *bitReader) receive(n int) (int32, error) {
	var v int32
	for i := 0; i < n; i++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | int32(bit)
	}
	return v, nil
}

func decodeHuffman(r *bitReader, t *derivedDecodeTable) (byte, error) {
	code := int32(0)
	for l := 1; l <= 16; l++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		code = code<<1 | int32(bit)
		if t.maxCode[l] >= 0 && code <= t.maxCode[l] {
			idx := t.valPtr[l] + (code - t.minCode[l])
			if int(idx) >= len(t.values) {
				return 0, fmt.Errorf("corrupt huffman table")
			}
			return t.values[idx], nil
		}
	}
	return 0, fmt.Errorf("bad huffman code")
}

// extend implements the JPEG EXTEND procedure (F.2.2.1): expands an
// n-bit magnitude into a signed value, given the sign is encoded by
// whether the magnitude falls in the lower or upper half of its range.
func extend(v int32, n int) int16 {
	if n == 0 {
		return 0
	}
	if v < (1 << uint(n-1)) {
		return int16(v - (1 << uint(n)) + 1)
	}
	return int16(v)
}

func (p *Provider) decodeScan(sosPayload, entropy []byte, dcTables, acTables [4]*huffTable) error {
	if len(sosPayload) < 1 {
		return fmt.Errorf("empty SOS payload")
	}
	ns := int(sosPayload[0])
	if len(sosPayload) < 1+ns*2+3 {
		return fmt.Errorf("short SOS payload")
	}
	for i := 0; i < ns; i++ {
		selector := sosPayload[1+i*2]
		tables := sosPayload[2+i*2]
		dcID, acID := tables>>4, tables&0x0F
		if dcID > 3 || acID > 3 {
			return fmt.Errorf("unsupported huffman table selector for component id %d", selector)
		}
		found := false
		for c := range p.components {
			if p.components[c].id == selector {
				p.components[c].dcTableID = dcID
				p.components[c].acTableID = acID
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("SOS references unknown component id %d", selector)
		}
	}

	p.coeffs = make([][]int16, len(p.components))
	for c := range p.components {
		n := p.components[c].widthInBlocks * p.components[c].heightInBlocks * blockSize
		p.coeffs[c] = make([]int16, n)
	}

	var dcDecode, acDecode [4]*derivedDecodeTable
	for id, t := range dcTables {
		if t != nil {
			dcDecode[id] = buildDecodeTable(*t)
		}
	}
	for id, t := range acTables {
		if t != nil {
			acDecode[id] = buildDecodeTable(*t)
		}
	}

	br := newBitReader(entropy)
	prevDC := make([]int16, len(p.components))
	var decodeErr error
	p.forEachBlock(func(comp, row, col int) {
		if decodeErr != nil {
			return
		}
		wib := p.components[comp].widthInBlocks
		off := (row*wib + col) * blockSize
		block := p.coeffs[comp][off : off+blockSize]

		dcTbl := dcDecode[p.components[comp].dcTableID]
		acTbl := acDecode[p.components[comp].acTableID]
		if dcTbl == nil || acTbl == nil {
			decodeErr = fmt.Errorf("missing huffman table for component %d", comp)
			return
		}

		cat, err := decodeHuffman(br, dcTbl)
		if err != nil {
			decodeErr = err
			return
		}
		var diff int16
		if cat > 0 {
			bits, err := br.receive(int(cat))
			if err != nil {
				decodeErr = err
				return
			}
			diff = extend(bits, int(cat))
		}
		prevDC[comp] += diff
		block[0] = prevDC[comp]

		k := 1
		for k < blockSize {
			rs, err := decodeHuffman(br, acTbl)
			if err != nil {
				decodeErr = err
				return
			}
			run := int(rs >> 4)
			size := rs & 0x0F
			if size == 0 {
				if run == 15 {
					k += 16
					continue
				}
				break // EOB
			}
			k += run
			if k >= blockSize {
				decodeErr = fmt.Errorf("ac coefficient run exceeds block size")
				return
			}
			bits, err := br.receive(int(size))
			if err != nil {
				decodeErr = err
				return
			}
			block[k] = extend(bits, int(size))
			k++
		}
	})
	return decodeErr
}

// bitWriter accumulates MSB-first bits and byte-stuffs 0xFF on flush.
type bitWriter struct {
	buf  bytes.Buffer
	cur  byte
	nbit int
}

func (w *bitWriter) putBits(v int32, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := byte(v>>uint(i)) & 1
		w.cur = w.cur<<1 | bit
		w.nbit++
		if w.nbit == 8 {
			w.emit(w.cur)
			w.cur = 0
			w.nbit = 0
		}
	}
}

func (w *bitWriter) emit(b byte) {
	w.buf.WriteByte(b)
	if b == 0xFF {
		w.buf.WriteByte(0x00)
	}
}

func (w *bitWriter) flush() {
	if w.nbit > 0 {
		w.cur = w.cur<<uint(8-w.nbit) | (0xFF >> uint(w.nbit))
		w.emit(w.cur)
		w.cur = 0
		w.nbit = 0
	}
}

func encodeMagnitude(v int16) (size byte, bits int32) {
	size = dcCategory(v)
	if v < 0 {
		bits = int32(v) + (1 << uint(size)) - 1
	} else {
		bits = int32(v)
	}
	return
}

func (p *Provider) encodeScan(dcTables, acTables map[int]huffTable) ([]byte, error) {
	dcEnc := map[byte]*derivedEncodeTable{}
	for id, t := range dcTables {
		dcEnc[byte(id)] = buildEncodeTable(t)
	}
	acEnc := map[byte]*derivedEncodeTable{}
	for id, t := range acTables {
		acEnc[byte(id)] = buildEncodeTable(t)
	}

	w := &bitWriter{}
	prevDC := make([]int16, len(p.components))
	var encodeErr error
	p.forEachBlock(func(comp, row, col int) {
		if encodeErr != nil {
			return
		}
		wib := p.components[comp].widthInBlocks
		off := (row*wib + col) * blockSize
		block := p.coeffs[comp][off : off+blockSize]

		dcTbl := dcEnc[p.components[comp].dcTableID]
		acTbl := acEnc[p.components[comp].acTableID]

		diff := block[0] - prevDC[comp]
		prevDC[comp] = block[0]
		size, bits := encodeMagnitude(diff)
		w.putBits(int32(dcTbl.code[size]), int(dcTbl.size[size]))
		if size > 0 {
			w.putBits(bits, int(size))
		}

		run := 0
		for k := 1; k < blockSize; k++ {
			v := block[k]
			if v == 0 {
				run++
				continue
			}
			for run > 15 {
				w.putBits(int32(acTbl.code[0xF0]), int(acTbl.size[0xF0]))
				run -= 16
			}
			vsize, vbits := encodeMagnitude(v)
			symbol := byte(run<<4) | vsize
			w.putBits(int32(acTbl.code[symbol]), int(acTbl.size[symbol]))
			w.putBits(vbits, int(vsize))
			run = 0
		}
		if run > 0 {
			w.putBits(int32(acTbl.code[0x00]), int(acTbl.size[0x00]))
		}
	})
	if encodeErr != nil {
		return nil, encodeErr
	}
	w.flush()
	return w.buf.Bytes(), nil
}
