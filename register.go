// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package steganofs

// Importing the codec packages purely for their init side effect, which
// registers each format with the internal/carrier package. A host program
// that wants a subset of formats can import those codec packages directly
// instead of this package and skip the ones it doesn't need.
import (
	_ "github.com/zanicar/steganofs/internal/carrier/bmpcarrier"
	_ "github.com/zanicar/steganofs/internal/carrier/jpegcarrier"
	_ "github.com/zanicar/steganofs/internal/carrier/pngcarrier"
)
