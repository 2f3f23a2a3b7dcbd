// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package steganofs

import "io"

// ReadByte implements io.ByteReader.
func (f *File) ReadByte() (byte, error) {
	var b [1]byte
	n, err := f.Read(b[:])
	if n == 1 {
		return b[0], nil
	}
	if err == nil {
		err = io.EOF
	}
	return 0, err
}

// WriteByte implements io.ByteWriter.
func (f *File) WriteByte(b byte) error {
	_, err := f.Write([]byte{b})
	return err
}

// MustReadByte behaves exactly like ReadByte: at the end of the payload it
// returns (0, io.EOF). It exists as the byte counterpart of MustReadLine.
func (f *File) MustReadByte() (byte, error) {
	return f.ReadByte()
}

// ReadLine reads a single line, delimited by sep, not including the
// delimiter. ok is false at EOF with no bytes read.
func (f *File) ReadLine(sep byte) (line []byte, ok bool, err error) {
	for {
		b, rerr := f.ReadByte()
		if rerr != nil {
			if rerr == io.EOF {
				return line, len(line) > 0, nil
			}
			return line, false, rerr
		}
		if b == sep {
			return line, true, nil
		}
		line = append(line, b)
	}
}

// MustReadLine is ReadLine, but returns io.EOF as an error instead of
// ok == false.
func (f *File) MustReadLine(sep byte) ([]byte, error) {
	line, ok, err := f.ReadLine(sep)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	return line, nil
}

// ReadLines reads every remaining line, delimited by sep. A trailing
// unterminated line is included.
func (f *File) ReadLines(sep byte) ([][]byte, error) {
	var lines [][]byte
	for {
		line, ok, err := f.ReadLine(sep)
		if err != nil {
			return lines, err
		}
		if !ok {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// EachByte calls fn with each remaining payload byte in order, stopping
// early if fn returns false.
func (f *File) EachByte(fn func(byte) bool) error {
	for {
		b, err := f.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(b) {
			return nil
		}
	}
}

// Each calls fn with each remaining sep-delimited line, stopping early if
// fn returns false.
func (f *File) Each(sep byte, fn func([]byte) bool) error {
	for {
		line, ok, err := f.ReadLine(sep)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !fn(line) {
			return nil
		}
	}
}

// EachChar calls fn with each remaining payload byte decoded as a rune,
// assuming single-byte (non-UTF-8-aware) characters — the payload is an
// opaque byte stream, so "character" here means byte, matching the
// original's byte-oriented each_char.
func (f *File) EachChar(fn func(rune) bool) error {
	return f.EachByte(func(b byte) bool {
		return fn(rune(b))
	})
}

// SetBinary is a no-op: the payload is always a raw byte stream, so the
// binary-mode toggle some host languages distinguish from text mode has
// no behavioral effect here. Kept only so mode strings with a trailing
// 'b' round-trip through Mode/ParseMode/SetBinary without error.
func (f *File) SetBinary(b bool) {
	f.mode.Binary = b
}

// Binary reports the binary-mode flag SetBinary last set (or the mode
// string's trailing 'b', if Open parsed one).
func (f *File) Binary() bool {
	return f.mode.Binary
}
