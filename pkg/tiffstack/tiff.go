// Package tiffstack reads and writes multi-page TIFF files as 2D images or 3D stacks.
//
// golang.org/x/image/tiff only ever decodes the first page of a file, which is not
// enough for microscopy and MRI stacks stored one slice per page. This package walks
// every image file directory (IFD) itself and supports the baseline layouts those
// stacks use:
//
//   - little- and big-endian files
//   - 8, 16, 32 and 64 bit unsigned, signed and floating point samples
//   - 1 to 4 interleaved samples per pixel
//   - strip storage, uncompressed, LZW, Deflate or PackBits, with horizontal predictor
//
// Single-page files outside that set (tiles, palettes, bilevel images) are handed to
// golang.org/x/image/tiff.
package tiffstack

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrFormat reports data that is not a well-formed TIFF file.
	ErrFormat = errors.New("tiffstack: invalid format")

	// ErrUnsupported reports a valid TIFF feature this package does not decode.
	ErrUnsupported = errors.New("tiffstack: unsupported feature")

	// ErrInconsistentPages reports a stack whose pages differ in size or sample layout.
	ErrInconsistentPages = errors.New("tiffstack: pages differ in size or format")
)

const (
	leHeader = "II\x2A\x00"
	beHeader = "MM\x00\x2A"

	ifdEntryLen = 12

	// maxPages bounds IFD chains so corrupt next-offsets cannot loop forever.
	maxPages = 1 << 16

	// maxSamples bounds the decoded size of one file.
	maxSamples = 1 << 28

	// maxExpansion bounds how many pixel bytes one compressed byte may decode to.
	maxExpansion = 1 << 12
)

// Field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeLengths = map[uint16]uint32{
	dtByte:      1,
	dtASCII:     1,
	dtShort:     2,
	dtLong:      4,
	dtRational:  8,
	dtSByte:     1,
	dtUndefined: 1,
	dtSShort:    2,
	dtSLong:     4,
	dtSRational: 8,
	dtFloat:     4,
	dtDouble:    8,
}

// Tags.
const (
	tImageWidth                = 256
	tImageLength               = 257
	tBitsPerSample             = 258
	tCompression               = 259
	tPhotometricInterpretation = 262
	tImageDescription          = 270
	tStripOffsets              = 273
	tSamplesPerPixel           = 277
	tRowsPerStrip              = 278
	tStripByteCounts           = 279
	tPlanarConfiguration       = 284
	tPredictor                 = 317
	tColorMap                  = 320
	tTileWidth                 = 322
	tSampleFormat              = 339
)

// Compression values.
const (
	cNone       = 1
	cLZW        = 5
	cDeflate    = 8
	cDeflateOld = 32946
	cPackBits   = 32773
)

// Photometric interpretation values.
const (
	pWhiteIsZero = 0
	pBlackIsZero = 1
	pRGB         = 2
	pPaletted    = 3
)

// Predictor values.
const (
	prNone       = 1
	prHorizontal = 2
)

// Sample formats.
const (
	sfUint  = 1
	sfInt   = 2
	sfFloat = 3
)

func byteOrder(header []byte) (binary.ByteOrder, bool) {
	switch string(header[:4]) {
	case leHeader:
		return binary.LittleEndian, true
	case beHeader:
		return binary.BigEndian, true
	}
	return nil, false
}
