// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package steganofs

import (
	"errors"

	"github.com/zanicar/steganofs/internal/carrier"
	"github.com/zanicar/steganofs/internal/device"
)

// ErrInvalidCarrier is returned when a carrier's header does not match any
// supported format, or a format-specific constraint is violated.
var ErrInvalidCarrier = carrier.ErrInvalidCarrier

// ErrPayloadExtraction is returned when a payload-length trailer cannot be
// recovered, or the carrier is too small to ever hold one.
var ErrPayloadExtraction = device.ErrPayloadExtraction

// ErrHMACVerification is returned by Open when the authenticated trailer
// does not match the decrypted payload, and the mode is not append.
var ErrHMACVerification = errors.New("steganofs: hmac verification failed")

// ErrClosed is returned by any operation attempted on a closed File.
var ErrClosed = errors.New("steganofs: file already closed")

// ErrArgument is returned for malformed arguments: an unrecognized mode
// string, an unknown seek whence, or a seek to a negative position, all
// rejected before any state change.
var ErrArgument = errors.New("steganofs: invalid argument")
