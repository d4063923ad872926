package tiffstack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"golang.org/x/image/tiff"

	"proofread/internal/models"
)

// testPage describes one page for buildTIFF
type testPage struct {
	width, height int
	bps, spp      int
	sampleFormat  int
	compression   int
	predictor     int
	data          []byte
}

// buildTIFF assembles a TIFF file with one strip per page in the given byte order.
func buildTIFF(order binary.ByteOrder, pages []testPage) []byte {
	var buf bytes.Buffer
	if order == binary.LittleEndian {
		buf.WriteString(leHeader)
	} else {
		buf.WriteString(beHeader)
	}
	b4 := make([]byte, 4)
	b2 := make([]byte, 2)
	buf.Write(b4) // first IFD offset, patched below

	var prevNext int
	for i, p := range pages {
		dataOffset := buf.Len()
		buf.Write(p.data)
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
		ifd := buf.Len()
		if i == 0 {
			order.PutUint32(buf.Bytes()[4:8], uint32(ifd))
		} else {
			order.PutUint32(buf.Bytes()[prevNext:prevNext+4], uint32(ifd))
		}
		entries := [][3]uint32{
			{tImageWidth, dtLong, uint32(p.width)},
			{tImageLength, dtLong, uint32(p.height)},
			{tBitsPerSample, dtShort, uint32(p.bps)},
			{tCompression, dtShort, uint32(p.compression)},
			{tPhotometricInterpretation, dtShort, pBlackIsZero},
			{tStripOffsets, dtLong, uint32(dataOffset)},
			{tSamplesPerPixel, dtShort, uint32(p.spp)},
			{tRowsPerStrip, dtLong, uint32(p.height)},
			{tStripByteCounts, dtLong, uint32(len(p.data))},
			{tPredictor, dtShort, uint32(p.predictor)},
			{tSampleFormat, dtShort, uint32(p.sampleFormat)},
		}
		order.PutUint16(b2, uint16(len(entries)))
		buf.Write(b2)
		for _, e := range entries {
			order.PutUint16(b2, uint16(e[0]))
			buf.Write(b2)
			order.PutUint16(b2, uint16(e[1]))
			buf.Write(b2)
			order.PutUint32(b4, 1)
			buf.Write(b4)
			if e[1] == dtShort {
				order.PutUint16(b2, uint16(e[2]))
				buf.Write(b2)
				buf.Write([]byte{0, 0})
			} else {
				order.PutUint32(b4, e[2])
				buf.Write(b4)
			}
		}
		prevNext = buf.Len()
		buf.Write([]byte{0, 0, 0, 0})
	}
	return buf.Bytes()
}

func TestEncodeDecodeStack(t *testing.T) {
	for _, c := range []Compression{None, Deflate} {
		a := models.NewArray(models.Shape{3, 5, 7})
		for i := range a.Data {
			a.Data[i] = uint8((i * 37) % 251)
		}
		var buf bytes.Buffer
		if err := Encode(&buf, a, EncodeOptions{Compression: c}); err != nil {
			t.Fatalf("%s: Encode failed: %v", c, err)
		}

		raw, err := DecodeBytes(buf.Bytes())
		if err != nil {
			t.Fatalf("%s: Decode failed: %v", c, err)
		}
		if !raw.Shape.Equal(a.Shape) {
			t.Fatalf("%s: expected shape %v, got %v", c, a.Shape, raw.Shape)
		}
		if raw.DType != models.Uint8 || raw.NumChannels() != 1 {
			t.Errorf("%s: expected 1-channel uint8, got %d-channel %s", c, raw.NumChannels(), raw.DType)
		}
		for i, v := range a.Data {
			if raw.Samples[i] != float64(v) {
				t.Fatalf("%s: sample %d expected %d, got %v", c, i, v, raw.Samples[i])
			}
		}

		shape, err := Dims(bytes.NewReader(buf.Bytes()))
		if err != nil || !shape.Equal(a.Shape) {
			t.Errorf("%s: expected dims %v, got %v (%v)", c, a.Shape, shape, err)
		}
	}
}

func TestEncodeDecode2D(t *testing.T) {
	a := &models.Array{Shape: models.Shape{2, 3}, Data: []uint8{0, 1, 0, 1, 1, 0}}
	var buf bytes.Buffer
	if err := Encode(&buf, a, EncodeOptions{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	raw, err := DecodeBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !raw.Shape.Equal(models.Shape{2, 3}) {
		t.Errorf("Single page should decode as 2D, got %v", raw.Shape)
	}

	// golang.org/x/image/tiff must be able to read our pages too.
	img, err := tiff.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("x/image/tiff could not decode output: %v", err)
	}
	if g, ok := img.(*image.Gray); !ok || g.GrayAt(1, 0).Y != 1 {
		t.Errorf("Unexpected x/image decode result %T", img)
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, models.NewArray(models.Shape{0, 4, 4}), EncodeOptions{}); err == nil {
		t.Errorf("Expected error for empty stack")
	}
	if err := Encode(&buf, models.NewArray(models.Shape{4}), EncodeOptions{}); err == nil {
		t.Errorf("Expected error for 1D array")
	}
}

func TestDecodeBigEndianUint16(t *testing.T) {
	data := make([]byte, 2*2*2)
	vals := []uint16{0, 1000, 40000, 65535}
	for i, v := range vals {
		binary.BigEndian.PutUint16(data[2*i:], v)
	}
	file := buildTIFF(binary.BigEndian, []testPage{{
		width: 2, height: 2, bps: 16, spp: 1, sampleFormat: sfUint,
		compression: cNone, predictor: prNone, data: data,
	}})
	raw, err := DecodeBytes(file)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if raw.DType != models.Uint16 {
		t.Errorf("Expected uint16, got %s", raw.DType)
	}
	for i, v := range vals {
		if raw.Samples[i] != float64(v) {
			t.Errorf("Sample %d: expected %d, got %v", i, v, raw.Samples[i])
		}
	}
}

func TestDecodeSignedAndFloat(t *testing.T) {
	i16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(i16, uint16(0xFFFF)) // -1
	binary.LittleEndian.PutUint16(i16[2:], 300)

	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32, math.Float32bits(-2.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(0.75))

	testCases := []struct {
		page     testPage
		dtype    models.DType
		expected []float64
	}{
		{testPage{width: 2, height: 1, bps: 16, spp: 1, sampleFormat: sfInt, compression: cNone, predictor: prNone, data: i16},
			models.Int16, []float64{-1, 300}},
		{testPage{width: 2, height: 1, bps: 32, spp: 1, sampleFormat: sfFloat, compression: cNone, predictor: prNone, data: f32},
			models.Float32, []float64{-2.5, 0.75}},
	}
	for _, tc := range testCases {
		raw, err := DecodeBytes(buildTIFF(binary.LittleEndian, []testPage{tc.page}))
		if err != nil {
			t.Fatalf("%s: Decode failed: %v", tc.dtype, err)
		}
		if raw.DType != tc.dtype {
			t.Errorf("Expected %s, got %s", tc.dtype, raw.DType)
		}
		for i, v := range tc.expected {
			if raw.Samples[i] != v {
				t.Errorf("%s sample %d: expected %v, got %v", tc.dtype, i, v, raw.Samples[i])
			}
		}
	}
}

func TestDecodePackBitsAndPredictor(t *testing.T) {
	// Row of 4 pixels 10, 10, 10, 13 stored with horizontal differencing as
	// 10, 0, 0, 3 and PackBits-encoded as literal(1) + run(2 zeros) + literal(1).
	packed := []byte{0x00, 10, 0xFF, 0, 0x00, 3}
	file := buildTIFF(binary.LittleEndian, []testPage{{
		width: 4, height: 1, bps: 8, spp: 1, sampleFormat: sfUint,
		compression: cPackBits, predictor: prHorizontal, data: packed,
	}})
	raw, err := DecodeBytes(file)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	expected := []float64{10, 10, 10, 13}
	for i, v := range expected {
		if raw.Samples[i] != v {
			t.Errorf("Sample %d: expected %v, got %v", i, v, raw.Samples[i])
		}
	}
}

func TestUnpackBits(t *testing.T) {
	out, err := unpackBits([]byte{0xFE, 7, 0x80, 0x01, 1, 2}, 5)
	if err != nil {
		t.Fatalf("unpackBits failed: %v", err)
	}
	expected := []byte{7, 7, 7, 1, 2}
	if !bytes.Equal(out, expected) {
		t.Errorf("Expected %v, got %v", expected, out)
	}
	if _, err := unpackBits([]byte{0x05, 1}, 6); err == nil {
		t.Errorf("Expected error for truncated literal")
	}
}

func TestDecodeXImageDeflatePredictor(t *testing.T) {
	gray16 := image.NewGray16(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			gray16.SetGray16(x, y, color.Gray16{Y: uint16(x*5000 + y*7)})
		}
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, gray16, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		t.Fatalf("x/image Encode failed: %v", err)
	}
	raw, err := DecodeBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !raw.Shape.Equal(models.Shape{4, 6}) || raw.DType != models.Uint16 {
		t.Fatalf("Unexpected result %v %s", raw.Shape, raw.DType)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			if got, want := raw.Samples[y*6+x], float64(x*5000+y*7); got != want {
				t.Fatalf("(%d,%d): expected %v, got %v", x, y, want, got)
			}
		}
	}
}

func TestDecodeRGB(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 200, B: 100, A: 255})
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatalf("x/image Encode failed: %v", err)
	}
	raw, err := DecodeBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if raw.NumChannels() < 3 {
		t.Fatalf("Expected color channels, got %d", raw.NumChannels())
	}
	ch := raw.NumChannels()
	if raw.Samples[0] != 255 || raw.Samples[ch+1] != 200 || raw.Samples[ch+2] != 100 {
		t.Errorf("Unexpected samples %v", raw.Samples)
	}
}

func TestDecodePalettedFallback(t *testing.T) {
	pal := color.Palette{color.Gray{Y: 0}, color.Gray{Y: 180}}
	img := image.NewPaletted(image.Rect(0, 0, 3, 2), pal)
	img.SetColorIndex(2, 1, 1)
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatalf("x/image Encode failed: %v", err)
	}
	raw, err := DecodeBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("Paletted single page should decode through fallback: %v", err)
	}
	if !raw.Shape.Equal(models.Shape{2, 3}) {
		t.Fatalf("Unexpected shape %v", raw.Shape)
	}
	ch := raw.NumChannels()
	if raw.Samples[(1*3+2)*ch] != 180 {
		t.Errorf("Expected palette color 180 at (2,1), got %v", raw.Samples[(1*3+2)*ch])
	}
}

func TestInconsistentPages(t *testing.T) {
	file := buildTIFF(binary.LittleEndian, []testPage{
		{width: 2, height: 2, bps: 8, spp: 1, sampleFormat: sfUint, compression: cNone, predictor: prNone, data: make([]byte, 4)},
		{width: 3, height: 2, bps: 8, spp: 1, sampleFormat: sfUint, compression: cNone, predictor: prNone, data: make([]byte, 6)},
	})
	if _, err := DecodeBytes(file); !errors.Is(err, ErrInconsistentPages) {
		t.Errorf("Expected ErrInconsistentPages, got %v", err)
	}

	shape, err := Dims(bytes.NewReader(file))
	if err != nil || !shape.Equal(models.Shape{2, 2, 2}) {
		t.Errorf("Dims should report pages x first page size, got %v (%v)", shape, err)
	}
}

func TestCorruptInput(t *testing.T) {
	testCases := map[string][]byte{
		"empty":      {},
		"not tiff":   []byte("\x89PNG\r\n\x1a\n0000"),
		"bad offset": []byte("II\x2A\x00\xFF\xFF\x00\x00"),
	}
	for name, data := range testCases {
		if _, err := DecodeBytes(data); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: expected ErrFormat, got %v", name, err)
		}
	}

	// A 4x4 page whose strip only holds 8 of its 16 bytes.
	file := buildTIFF(binary.LittleEndian, []testPage{{
		width: 4, height: 4, bps: 8, spp: 1, sampleFormat: sfUint,
		compression: cNone, predictor: prNone, data: make([]byte, 8),
	}})
	if _, err := DecodeBytes(file); !errors.Is(err, ErrFormat) {
		t.Errorf("truncated strip: expected ErrFormat, got %v", err)
	}
}

// TestOversizedDimensions checks that header dimensions the file cannot back
// are rejected before any buffer is sized from them.
func TestOversizedDimensions(t *testing.T) {
	testCases := []struct {
		name string
		page testPage
	}{
		{"max uint32 sides", testPage{
			width: 0xFFFFFFFF, height: 0xFFFFFFFF, bps: 8, spp: 1, sampleFormat: sfUint,
			compression: cNone, predictor: prNone, data: make([]byte, 16),
		}},
		{"product overflows", testPage{
			width: 0xFFFFFFFF, height: 0xFFFFFFFF, bps: 64, spp: 4, sampleFormat: sfFloat,
			compression: cNone, predictor: prNone, data: make([]byte, 16),
		}},
		{"uncompressed without data", testPage{
			width: 100000, height: 100000, bps: 8, spp: 1, sampleFormat: sfUint,
			compression: cNone, predictor: prNone, data: make([]byte, 16),
		}},
		{"deflate without data", testPage{
			width: 10000, height: 10000, bps: 8, spp: 1, sampleFormat: sfUint,
			compression: cDeflate, predictor: prNone, data: make([]byte, 64),
		}},
		{"too many samples", testPage{
			width: 20000, height: 20000, bps: 8, spp: 1, sampleFormat: sfUint,
			compression: cDeflate, predictor: prNone, data: make([]byte, 1<<17),
		}},
	}
	for _, tt := range testCases {
		file := buildTIFF(binary.LittleEndian, []testPage{tt.page})
		if _, err := DecodeBytes(file); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: expected ErrFormat, got %v", tt.name, err)
		}
		if _, err := Dims(bytes.NewReader(file)); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: Dims expected ErrFormat, got %v", tt.name, err)
		}
	}

	// Strip byte counts short of the declared image are rejected even when
	// the file itself is large enough.
	page := testPage{
		width: 64, height: 64, bps: 8, spp: 1, sampleFormat: sfUint,
		compression: cNone, predictor: prNone, data: make([]byte, 64*64),
	}
	file := buildTIFF(binary.LittleEndian, []testPage{page})
	binary.LittleEndian.PutUint32(file[stripCountValue(t, file):], 64)
	if _, err := DecodeBytes(file); !errors.Is(err, ErrFormat) {
		t.Errorf("short strip counts: expected ErrFormat, got %v", err)
	}
}

// stripCountValue returns the offset of the StripByteCounts value in the first
// IFD of a little-endian file written by buildTIFF.
func stripCountValue(t *testing.T, file []byte) int {
	t.Helper()
	ifd := int(binary.LittleEndian.Uint32(file[4:8]))
	n := int(binary.LittleEndian.Uint16(file[ifd:]))
	for i := 0; i < n; i++ {
		entry := ifd + 2 + i*ifdEntryLen
		if binary.LittleEndian.Uint16(file[entry:]) == tStripByteCounts {
			return entry + 8
		}
	}
	t.Fatalf("no StripByteCounts entry")
	return 0
}
