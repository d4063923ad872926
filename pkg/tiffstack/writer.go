package tiffstack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"

	"proofread/internal/models"
)

// Compression selects how Encode stores page data.
type Compression string

const (
	None    Compression = "none"
	Deflate Compression = "deflate"
)

// EncodeOptions controls Encode. The zero value writes uncompressed pages.
type EncodeOptions struct {
	Compression Compression
}

// Encode writes a as little-endian 8-bit grayscale TIFF: one page for a 2D array,
// one page per Z slice for a 3D array.
func Encode(w io.Writer, a *models.Array, opts EncodeOptions) error {
	if a.Rank() != 2 && a.Rank() != 3 {
		return fmt.Errorf("tiffstack: cannot encode rank %d array", a.Rank())
	}
	height, width := a.Height(), a.Width()
	if height <= 0 || width <= 0 || a.Depth() <= 0 {
		return fmt.Errorf("tiffstack: cannot encode empty array %v", a.Shape)
	}

	compression := uint32(cNone)
	if opts.Compression == Deflate {
		compression = cDeflate
	}

	strips := make([][]byte, a.Depth())
	for z := range strips {
		data, err := compressPlane(a.Plane(z), opts.Compression)
		if err != nil {
			return fmt.Errorf("tiffstack: compressing slice %d: %w", z, err)
		}
		strips[z] = data
	}

	type entry struct {
		tag, datatype uint16
		value         uint32
	}
	const nEntries = 11
	ifdLen := uint64(2 + nEntries*ifdEntryLen + 4)

	var buf bytes.Buffer
	buf.WriteString(leHeader)
	order := binary.LittleEndian
	offset := uint64(8)
	put32 := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	put16 := func(v uint16) {
		var b [2]byte
		order.PutUint16(b[:], v)
		buf.Write(b[:])
	}
	put32(uint32(offset)) // first IFD follows the first page's data; patched below

	for z, data := range strips {
		dataOffset := offset
		offset += uint64(len(data))
		if offset%2 == 1 {
			offset++
		}
		ifdOffset := offset
		offset += ifdLen
		next := uint64(0)
		if z+1 < len(strips) {
			n := uint64(len(strips[z+1]))
			next = offset + n + n%2
		}
		if offset > math.MaxUint32 || next > math.MaxUint32 {
			return fmt.Errorf("tiffstack: stack %v exceeds 4 GiB", a.Shape)
		}

		if z == 0 {
			order.PutUint32(buf.Bytes()[4:8], uint32(ifdOffset))
		}
		buf.Write(data)
		if len(data)%2 == 1 {
			buf.WriteByte(0)
		}

		entries := [nEntries]entry{
			{tImageWidth, dtLong, uint32(width)},
			{tImageLength, dtLong, uint32(height)},
			{tBitsPerSample, dtShort, 8},
			{tCompression, dtShort, compression},
			{tPhotometricInterpretation, dtShort, pBlackIsZero},
			{tStripOffsets, dtLong, uint32(dataOffset)},
			{tSamplesPerPixel, dtShort, 1},
			{tRowsPerStrip, dtLong, uint32(height)},
			{tStripByteCounts, dtLong, uint32(len(data))},
			{tPlanarConfiguration, dtShort, 1},
			{tSampleFormat, dtShort, sfUint},
		}
		put16(nEntries)
		for _, e := range entries {
			put16(e.tag)
			put16(e.datatype)
			put32(1)
			if e.datatype == dtShort {
				put16(uint16(e.value))
				put16(0)
			} else {
				put32(e.value)
			}
		}
		put32(uint32(next))
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func compressPlane(plane []uint8, c Compression) ([]byte, error) {
	switch c {
	case "", None:
		return append([]byte(nil), plane...), nil
	case Deflate:
		var out bytes.Buffer
		zw, err := zlib.NewWriterLevel(&out, zlib.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(plane); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression %q", c)
}
