// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package steganofs

import "strings"

// Mode describes how Open should treat an existing (or not yet existing)
// payload, parsed from a mode string modeled on the host languages this
// system originally targeted: r, r+, w, w+, a, a+, each with an optional
// trailing 'b' that is accepted and recorded but has no behavioral effect
// — the payload is always a raw byte stream.
type Mode struct {
	Read   bool
	Write  bool
	Create bool // truncate/replace any existing payload
	Append bool // open leniently; verification failure resets to empty
	Binary bool
}

// String renders the mode back to its canonical form.
func (m Mode) String() string {
	var s string
	switch {
	case m.Create && m.Read:
		s = "w+"
	case m.Create:
		s = "w"
	case m.Append && m.Read:
		s = "a+"
	case m.Append:
		s = "a"
	case m.Read && m.Write:
		s = "r+"
	default:
		s = "r"
	}
	if m.Binary {
		s += "b"
	}
	return s
}

// ParseMode parses one of r, r+, w, w+, a, a+, each with an optional
// trailing b, returning ErrArgument for anything else.
func ParseMode(s string) (Mode, error) {
	var m Mode
	base := s
	if strings.HasSuffix(base, "b") {
		m.Binary = true
		base = strings.TrimSuffix(base, "b")
	}
	switch base {
	case "r":
		m.Read = true
	case "r+":
		m.Read, m.Write = true, true
	case "w":
		m.Write, m.Create = true, true
	case "w+":
		m.Read, m.Write, m.Create = true, true, true
	case "a":
		m.Write, m.Append = true, true
	case "a+":
		m.Read, m.Write, m.Append = true, true, true
	default:
		return Mode{}, ErrArgument
	}
	return m, nil
}
