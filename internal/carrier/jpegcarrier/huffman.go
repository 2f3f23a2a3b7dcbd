// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package jpegcarrier

import "fmt"

// huffTable is a JPEG Huffman table (Annex C/F): bits[l] counts how many
// symbols have code length l (1..16), and values lists symbols in the
// order assigned to ascending code lengths.
type huffTable struct {
	class byte // 0 = DC, 1 = AC
	id    byte
	bits  [17]int
	values []byte
}

func parseDHT(payload []byte) ([]huffTable, error) {
	var tables []huffTable
	for len(payload) > 0 {
		if len(payload) < 17 {
			return nil, fmt.Errorf("short DHT segment")
		}
		t := huffTable{class: payload[0] >> 4, id: payload[0] & 0x0F}
		if t.id > 3 {
			return nil, fmt.Errorf("unsupported huffman table id %d", t.id)
		}
		total := 0
		for l := 1; l <= 16; l++ {
			t.bits[l] = int(payload[l])
			total += t.bits[l]
		}
		payload = payload[17:]
		if len(payload) < total {
			return nil, fmt.Errorf("short DHT value list")
		}
		t.values = append([]byte(nil), payload[:total]...)
		payload = payload[total:]
		tables = append(tables, t)
	}
	return tables, nil
}

func encodeDHT(class, id byte, t huffTable) []byte {
	out := make([]byte, 0, 17+len(t.values))
	out = append(out, class<<4|id)
	for l := 1; l <= 16; l++ {
		out = append(out, byte(t.bits[l]))
	}
	out = append(out, t.values...)
	return out
}

// derivedEncodeTable maps a symbol to its canonical (code, length) pair,
// built from bits/values the same way libjpeg's jpeg_make_c_derived_tbl
// does (Annex C, figures C.1/C.2).
type derivedEncodeTable struct {
	code [256]uint16
	size [256]byte
}

func buildEncodeTable(t huffTable) *derivedEncodeTable {
	huffsize := make([]byte, 0, 256)
	for l := 1; l <= 16; l++ {
		for i := 0; i < t.bits[l]; i++ {
			huffsize = append(huffsize, byte(l))
		}
	}
	huffcode := make([]uint16, len(huffsize))
	code := uint16(0)
	si := byte(0)
	if len(huffsize) > 0 {
		si = huffsize[0]
	}
	k := 0
	for k < len(huffsize) {
		for k < len(huffsize) && huffsize[k] == si {
			huffcode[k] = code
			code++
			k++
		}
		code <<= 1
		si++
	}
	d := &derivedEncodeTable{}
	for i, sym := range t.values {
		d.code[sym] = huffcode[i]
		d.size[sym] = huffsize[i]
	}
	return d
}

// derivedDecodeTable supports bit-by-bit Huffman decode (Annex F.16): for
// each code length, minCode/maxCode bound the codes of that length and
// valPtr indexes into values for the first symbol of that length.
type derivedDecodeTable struct {
	values        []byte
	minCode       [17]int32
	maxCode       [17]int32
	valPtr        [17]int32
}

func buildDecodeTable(t huffTable) *derivedDecodeTable {
	d := &derivedDecodeTable{values: t.values}
	code := int32(0)
	k := 0
	for l := 1; l <= 16; l++ {
		if t.bits[l] == 0 {
			d.maxCode[l] = -1
		} else {
			d.valPtr[l] = int32(k)
			d.minCode[l] = code
			code += int32(t.bits[l])
			k += t.bits[l]
			d.maxCode[l] = code - 1
		}
		code <<= 1
	}
	return d
}

// buildOptimalTables rebuilds DC/AC Huffman tables per component from the
// actual coefficient data currently in memory (post steganographic edits),
// mirroring the original's jpeg_compress_struct.optimize_coding=TRUE path.
// It returns the DC and AC tables (bits/values) keyed by the table id each
// component was assigned at decode time (DC and AC ids reused as-is; only
// the code assignment within each id is refreshed).
func (p *Provider) buildOptimalTables() (map[int]huffTable, map[int]huffTable, error) {
	dcFreq := map[byte]*[257]int{}
	acFreq := map[byte]*[257]int{}
	for c := range p.components {
		dcID := p.components[c].dcTableID
		acID := p.components[c].acTableID
		if dcFreq[dcID] == nil {
			dcFreq[dcID] = &[257]int{}
		}
		if acFreq[acID] == nil {
			acFreq[acID] = &[257]int{}
		}
	}
	prevDC := make([]int16, len(p.components))
	p.forEachBlock(func(comp, row, col int) {
		wib := p.components[comp].widthInBlocks
		off := (row*wib + col) * blockSize
		coeffs := p.coeffs[comp][off : off+blockSize]
		dcID := p.components[comp].dcTableID
		acID := p.components[comp].acTableID
		diff := coeffs[0] - prevDC[comp]
		prevDC[comp] = coeffs[0]
		dcFreq[dcID][dcCategory(diff)]++
		countACFrequencies(coeffs, acFreq[acID])
	})

	dcTables := map[int]huffTable{}
	for id, freq := range dcFreq {
		dcTables[int(id)] = genOptimalTable(0, id, freq)
	}
	acTables := map[int]huffTable{}
	for id, freq := range acFreq {
		acTables[int(id)] = genOptimalTable(1, id, freq)
	}
	return dcTables, acTables, nil
}

func countACFrequencies(coeffs []int16, freq *[257]int) {
	run := 0
	for k := 1; k < blockSize; k++ {
		v := coeffs[k]
		if v == 0 {
			run++
			continue
		}
		for run > 15 {
			freq[0xF0]++
			run -= 16
		}
		symbol := byte(run<<4) | acCategory(v)
		freq[symbol]++
		run = 0
	}
	if run > 0 {
		freq[0x00]++ // EOB
	}
}

// genOptimalTable builds code-length-limited (<=16 bits) Huffman table
// bits/values from symbol frequencies, following the same algorithm as
// libjpeg's jpeg_gen_optimal_table: iterative two-smallest-node merging
// with a reserved dummy symbol (256) to guarantee no code is all ones.
func genOptimalTable(class, id byte, freq *[257]int) huffTable {
	var freqCopy [257]int
	copy(freqCopy[:], freq[:])
	freqCopy[256] = 1 // reserve one code point

	var codesize [257]int
	var others [257]int
	for i := range others {
		others[i] = -1
	}

	for {
		c1, v1 := -1, -1
		for i := 0; i <= 256; i++ {
			if freqCopy[i] == 0 {
				continue
			}
			if v1 < 0 || freqCopy[i] <= v1 {
				v1 = freqCopy[i]
				c1 = i
			}
		}
		c2, v2 := -1, -1
		for i := 0; i <= 256; i++ {
			if freqCopy[i] == 0 || i == c1 {
				continue
			}
			if v2 < 0 || freqCopy[i] <= v2 {
				v2 = freqCopy[i]
				c2 = i
			}
		}
		if c2 < 0 {
			break
		}
		freqCopy[c1] += freqCopy[c2]
		freqCopy[c2] = 0
		codesize[c1]++
		for others[c1] >= 0 {
			c1 = others[c1]
			codesize[c1]++
		}
		others[c1] = c2
		codesize[c2]++
		for others[c2] >= 0 {
			c2 = others[c2]
			codesize[c2]++
		}
	}

	var bitsCount [33]int
	for i := 0; i <= 256; i++ {
		if codesize[i] > 0 {
			bitsCount[codesize[i]]++
		}
	}

	for l := 32; l > 16; l-- {
		for bitsCount[l] > 0 {
			j := l - 2
			for bitsCount[j] == 0 {
				j--
			}
			bitsCount[l] -= 2
			bitsCount[l-1]++
			bitsCount[j+1] += 2
			bitsCount[j]--
		}
	}
	i := 16
	for bitsCount[i] == 0 {
		i--
	}
	bitsCount[i]--

	t := huffTable{class: class, id: id}
	for l := 1; l <= 16; l++ {
		t.bits[l] = bitsCount[l]
	}

	for l := 1; l <= 32; l++ {
		for i := 0; i <= 255; i++ {
			if codesize[i] == l {
				t.values = append(t.values, byte(i))
			}
		}
	}
	return t
}

func dcCategory(diff int16) byte {
	v := diff
	if v < 0 {
		v = -v
	}
	cat := byte(0)
	for v != 0 {
		cat++
		v >>= 1
	}
	return cat
}

func acCategory(v int16) byte {
	return dcCategory(v)
}
