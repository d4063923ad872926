package tiffstack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff"
	"golang.org/x/image/tiff/lzw"

	"proofread/internal/models"
	"proofread/pkg/canonical"
)

// page holds the fields of one IFD needed to decode its pixels.
type page struct {
	width, height   int
	bitsPerSample   int
	samplesPerPixel int
	sampleFormat    int
	compression     int
	photometric     int
	predictor       int
	planar          int
	rowsPerStrip    int
	stripOffsets    []uint64
	stripByteCounts []uint64
	tiled           bool
}

// layout reports whether two pages can be stacked.
func (p *page) sameLayout(o *page) bool {
	return p.width == o.width && p.height == o.height &&
		p.bitsPerSample == o.bitsPerSample && p.samplesPerPixel == o.samplesPerPixel &&
		p.sampleFormat == o.sampleFormat
}

func (p *page) dtype() (models.DType, error) {
	switch {
	case p.sampleFormat == sfUint && p.bitsPerSample == 8:
		return models.Uint8, nil
	case p.sampleFormat == sfUint && p.bitsPerSample == 16:
		return models.Uint16, nil
	case p.sampleFormat == sfUint && p.bitsPerSample == 32:
		return models.Uint32, nil
	case p.sampleFormat == sfInt && p.bitsPerSample == 8:
		return models.Int8, nil
	case p.sampleFormat == sfInt && p.bitsPerSample == 16:
		return models.Int16, nil
	case p.sampleFormat == sfInt && p.bitsPerSample == 32:
		return models.Int32, nil
	case p.sampleFormat == sfFloat && p.bitsPerSample == 32:
		return models.Float32, nil
	case p.sampleFormat == sfFloat && p.bitsPerSample == 64:
		return models.Float64, nil
	}
	return 0, fmt.Errorf("%w: %d-bit samples with sample format %d", ErrUnsupported, p.bitsPerSample, p.sampleFormat)
}

// supported checks the page against what decodePage handles.
func (p *page) supported() error {
	if p.tiled {
		return fmt.Errorf("%w: tiled images", ErrUnsupported)
	}
	if p.photometric == pPaletted {
		return fmt.Errorf("%w: paletted images", ErrUnsupported)
	}
	if p.planar != 1 {
		return fmt.Errorf("%w: planar configuration %d", ErrUnsupported, p.planar)
	}
	if p.samplesPerPixel < 1 || p.samplesPerPixel > 4 {
		return fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, p.samplesPerPixel)
	}
	switch p.compression {
	case cNone, cLZW, cDeflate, cDeflateOld, cPackBits:
	default:
		return fmt.Errorf("%w: compression %d", ErrUnsupported, p.compression)
	}
	switch p.predictor {
	case prNone:
	case prHorizontal:
		if p.bitsPerSample != 8 && p.bitsPerSample != 16 {
			return fmt.Errorf("%w: horizontal predictor with %d-bit samples", ErrUnsupported, p.bitsPerSample)
		}
	default:
		return fmt.Errorf("%w: predictor %d", ErrUnsupported, p.predictor)
	}
	_, err := p.dtype()
	return err
}

func (p *page) rowBytes() int {
	return p.width * p.samplesPerPixel * p.bitsPerSample / 8
}

// pixelBytes returns the decoded size of p in bytes, or false on overflow.
func (p *page) pixelBytes() (uint64, bool) {
	rowBits, ok := mulChecked(uint64(p.width), uint64(p.samplesPerPixel), uint64(p.bitsPerSample))
	if !ok {
		return 0, false
	}
	return mulChecked((rowBits+7)/8, uint64(p.height))
}

// mulChecked multiplies vals, reporting false when the product exceeds MaxInt64.
func mulChecked(vals ...uint64) (uint64, bool) {
	out := uint64(1)
	for _, v := range vals {
		hi, lo := bits.Mul64(out, v)
		if hi != 0 || lo > math.MaxInt64 {
			return 0, false
		}
		out = lo
	}
	return out, true
}

// decoder walks the IFD chain of one file.
type decoder struct {
	r     io.ReaderAt
	order binary.ByteOrder
	first uint32

	// size is the file length, or -1 when r cannot report it.
	size int64
}

func newDecoder(r io.ReaderAt) (*decoder, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	order, ok := byteOrder(header)
	if !ok {
		return nil, fmt.Errorf("%w: missing TIFF header", ErrFormat)
	}
	d := &decoder{r: r, order: order, first: order.Uint32(header[4:8]), size: -1}
	if s, ok := r.(interface{ Size() int64 }); ok {
		d.size = s.Size()
	}
	return d, nil
}

// checkBudget rejects files whose declared dimensions decode to more than
// maxSamples samples or cannot be backed by the bytes the file holds.
// Uncompressed pixels need one file byte each, compressed ones at least one
// byte per maxExpansion.
func (d *decoder) checkBudget(pages []*page) error {
	var samples, needed uint64
	for i, p := range pages {
		n, ok := mulChecked(uint64(p.width), uint64(p.height), uint64(p.samplesPerPixel))
		if ok {
			samples += n
		}
		if !ok || samples > maxSamples {
			return fmt.Errorf("%w: page %d declares %dx%d pixels with %d samples, limit is %d samples per file",
				ErrFormat, i, p.width, p.height, p.samplesPerPixel, maxSamples)
		}
		b, ok := p.pixelBytes()
		if !ok {
			return fmt.Errorf("%w: page %d: %d-bit samples overflow", ErrFormat, i, p.bitsPerSample)
		}
		if p.compression != cNone {
			b = (b + maxExpansion - 1) / maxExpansion
		}
		needed += b
	}
	if d.size >= 0 && needed > uint64(d.size) {
		return fmt.Errorf("%w: declared image size needs at least %d bytes, file has %d", ErrFormat, needed, d.size)
	}
	return nil
}

// pages reads every IFD in file order.
func (d *decoder) pages() ([]*page, error) {
	var out []*page
	seen := make(map[uint32]bool)
	for off := d.first; off != 0; {
		if seen[off] || len(out) >= maxPages {
			return nil, fmt.Errorf("%w: IFD chain loops or is too long", ErrFormat)
		}
		seen[off] = true
		p, next, err := d.readIFD(off)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		off = next
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no image directories", ErrFormat)
	}
	return out, nil
}

func (d *decoder) readIFD(off uint32) (*page, uint32, error) {
	var cnt [2]byte
	if _, err := d.r.ReadAt(cnt[:], int64(off)); err != nil {
		return nil, 0, fmt.Errorf("%w: reading IFD at %d: %v", ErrFormat, off, err)
	}
	n := int(d.order.Uint16(cnt[:]))
	buf := make([]byte, n*ifdEntryLen+4)
	if _, err := d.r.ReadAt(buf, int64(off)+2); err != nil {
		return nil, 0, fmt.Errorf("%w: reading %d IFD entries at %d: %v", ErrFormat, n, off, err)
	}

	p := &page{
		bitsPerSample:   1,
		samplesPerPixel: 1,
		sampleFormat:    sfUint,
		compression:     cNone,
		photometric:     pBlackIsZero,
		predictor:       prNone,
		planar:          1,
	}
	for i := 0; i < n; i++ {
		entry := buf[i*ifdEntryLen : (i+1)*ifdEntryLen]
		tag := d.order.Uint16(entry[0:2])
		vals, err := d.ifdUints(entry)
		if err != nil {
			return nil, 0, err
		}
		if len(vals) == 0 {
			continue
		}
		switch tag {
		case tImageWidth:
			p.width = int(vals[0])
		case tImageLength:
			p.height = int(vals[0])
		case tBitsPerSample:
			p.bitsPerSample = int(vals[0])
			for _, b := range vals[1:] {
				if int(b) != p.bitsPerSample {
					return nil, 0, fmt.Errorf("%w: mixed bits per sample %v", ErrUnsupported, vals)
				}
			}
		case tCompression:
			p.compression = int(vals[0])
		case tPhotometricInterpretation:
			p.photometric = int(vals[0])
		case tStripOffsets:
			p.stripOffsets = vals
		case tSamplesPerPixel:
			p.samplesPerPixel = int(vals[0])
		case tRowsPerStrip:
			p.rowsPerStrip = int(vals[0])
		case tStripByteCounts:
			p.stripByteCounts = vals
		case tPlanarConfiguration:
			p.planar = int(vals[0])
		case tPredictor:
			p.predictor = int(vals[0])
		case tTileWidth:
			p.tiled = true
		case tSampleFormat:
			p.sampleFormat = int(vals[0])
		}
	}
	if p.width <= 0 || p.height <= 0 {
		return nil, 0, fmt.Errorf("%w: image dimensions %dx%d", ErrFormat, p.width, p.height)
	}
	if p.rowsPerStrip <= 0 || p.rowsPerStrip > p.height {
		p.rowsPerStrip = p.height
	}
	next := d.order.Uint32(buf[n*ifdEntryLen:])
	return p, next, nil
}

// ifdUints returns the values of an integer-typed IFD entry. Entries of other
// types return nil.
func (d *decoder) ifdUints(entry []byte) ([]uint64, error) {
	datatype := d.order.Uint16(entry[2:4])
	count := d.order.Uint32(entry[4:8])
	size, ok := typeLengths[datatype]
	if !ok {
		return nil, nil
	}
	switch datatype {
	case dtByte, dtShort, dtLong:
	default:
		return nil, nil
	}
	if count > 1<<24 {
		return nil, fmt.Errorf("%w: IFD entry count %d", ErrFormat, count)
	}
	raw := entry[8:12]
	if total := size * count; total > 4 {
		off := int64(d.order.Uint32(entry[8:12]))
		if d.size >= 0 && off+int64(total) > d.size {
			return nil, fmt.Errorf("%w: IFD values at %d run past end of file", ErrFormat, off)
		}
		raw = make([]byte, total)
		if _, err := d.r.ReadAt(raw, off); err != nil {
			return nil, fmt.Errorf("%w: reading IFD values: %v", ErrFormat, err)
		}
	}
	vals := make([]uint64, count)
	for i := range vals {
		switch datatype {
		case dtByte:
			vals[i] = uint64(raw[i])
		case dtShort:
			vals[i] = uint64(d.order.Uint16(raw[2*i:]))
		case dtLong:
			vals[i] = uint64(d.order.Uint32(raw[4*i:]))
		}
	}
	return vals, nil
}

// readPixels returns the uncompressed, predictor-decoded bytes of p.
func (d *decoder) readPixels(p *page) ([]byte, error) {
	if len(p.stripOffsets) == 0 || len(p.stripOffsets) != len(p.stripByteCounts) {
		return nil, fmt.Errorf("%w: %d strip offsets, %d byte counts", ErrFormat, len(p.stripOffsets), len(p.stripByteCounts))
	}
	rowBytes := p.rowBytes()
	want := rowBytes * p.height
	if p.compression == cNone {
		var stored uint64
		for _, n := range p.stripByteCounts {
			if stored += n; stored >= uint64(want) {
				break
			}
		}
		if stored < uint64(want) {
			return nil, fmt.Errorf("%w: strips hold %d bytes, image needs %d", ErrFormat, stored, want)
		}
	}
	out := make([]byte, 0, want)
	for i, off := range p.stripOffsets {
		rows := p.rowsPerStrip
		if rem := p.height - i*p.rowsPerStrip; rem < rows {
			rows = rem
		}
		if rows <= 0 {
			break
		}
		strip, err := d.readStrip(p, off, p.stripByteCounts[i], rows*rowBytes)
		if err != nil {
			return nil, fmt.Errorf("strip %d: %w", i, err)
		}
		out = append(out, strip...)
	}
	if len(out) < want {
		return nil, fmt.Errorf("%w: got %d pixel bytes, want %d", ErrFormat, len(out), want)
	}
	out = out[:want]
	if p.predictor == prHorizontal {
		undoHorizontal(out, p, d.order)
	}
	return out, nil
}

func (d *decoder) readStrip(p *page, off, n uint64, expected int) ([]byte, error) {
	sr := io.NewSectionReader(d.r, int64(off), int64(n))
	var src io.Reader = sr
	switch p.compression {
	case cNone:
	case cLZW:
		lr := lzw.NewReader(sr, lzw.MSB, 8)
		defer lr.Close()
		src = lr
	case cDeflate, cDeflateOld:
		zr, err := zlib.NewReader(sr)
		if err != nil {
			return nil, fmt.Errorf("%w: deflate: %v", ErrFormat, err)
		}
		defer zr.Close()
		src = zr
	case cPackBits:
		compressed, err := io.ReadAll(sr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		return unpackBits(compressed, expected)
	}
	buf := make([]byte, expected)
	got, err := io.ReadFull(src, buf)
	if err != nil && !(errors.Is(err, io.ErrUnexpectedEOF) && got > 0) {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return buf[:got], nil
}

// unpackBits decodes PackBits run-length data.
func unpackBits(src []byte, expected int) ([]byte, error) {
	out := make([]byte, 0, expected)
	for len(src) > 0 && len(out) < expected {
		n := int(int8(src[0]))
		src = src[1:]
		switch {
		case n >= 0:
			if len(src) < n+1 {
				return nil, fmt.Errorf("%w: truncated PackBits literal", ErrFormat)
			}
			out = append(out, src[:n+1]...)
			src = src[n+1:]
		case n != -128:
			if len(src) < 1 {
				return nil, fmt.Errorf("%w: truncated PackBits run", ErrFormat)
			}
			for i := 0; i < 1-n; i++ {
				out = append(out, src[0])
			}
			src = src[1:]
		}
	}
	return out, nil
}

// undoHorizontal reverses horizontal differencing row by row.
func undoHorizontal(buf []byte, p *page, order binary.ByteOrder) {
	spp := p.samplesPerPixel
	rowBytes := p.rowBytes()
	for y := 0; y < p.height; y++ {
		row := buf[y*rowBytes : (y+1)*rowBytes]
		switch p.bitsPerSample {
		case 8:
			for i := spp; i < len(row); i++ {
				row[i] += row[i-spp]
			}
		case 16:
			for i := spp; i < len(row)/2; i++ {
				v := order.Uint16(row[2*i:]) + order.Uint16(row[2*(i-spp):])
				order.PutUint16(row[2*i:], v)
			}
		}
	}
}

// samples converts decoded pixel bytes into float64 samples.
func samples(buf []byte, p *page, order binary.ByteOrder, dst []float64) {
	bytesPer := p.bitsPerSample / 8
	n := len(buf) / bytesPer
	for i := 0; i < n; i++ {
		b := buf[i*bytesPer:]
		var v float64
		switch p.sampleFormat {
		case sfUint:
			switch bytesPer {
			case 1:
				v = float64(b[0])
			case 2:
				v = float64(order.Uint16(b))
			case 4:
				v = float64(order.Uint32(b))
			}
		case sfInt:
			switch bytesPer {
			case 1:
				v = float64(int8(b[0]))
			case 2:
				v = float64(int16(order.Uint16(b)))
			case 4:
				v = float64(int32(order.Uint32(b)))
			}
		case sfFloat:
			switch bytesPer {
			case 4:
				v = float64(math.Float32frombits(order.Uint32(b)))
			case 8:
				v = math.Float64frombits(order.Uint64(b))
			}
		}
		dst[i] = v
	}
	if p.photometric == pWhiteIsZero && p.sampleFormat == sfUint {
		top := math.Exp2(float64(p.bitsPerSample)) - 1
		for i := 0; i < n; i++ {
			dst[i] = top - dst[i]
		}
	}
}

// Decode reads every page of a TIFF file. A single page yields shape (H, W),
// several pages yield (N, H, W) in file order.
func Decode(r io.ReaderAt) (*models.RawArray, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, err
	}
	pages, err := d.pages()
	if err != nil {
		return nil, err
	}

	if err := d.checkBudget(pages); err != nil {
		return nil, err
	}

	first := pages[0]
	if err := first.supported(); err != nil {
		if len(pages) == 1 && errors.Is(err, ErrUnsupported) {
			return decodeFallback(r)
		}
		return nil, err
	}
	for i, p := range pages[1:] {
		if !p.sameLayout(first) {
			return nil, fmt.Errorf("%w: page %d is %dx%d/%d-bit, page 0 is %dx%d/%d-bit", ErrInconsistentPages,
				i+1, p.width, p.height, p.bitsPerSample, first.width, first.height, first.bitsPerSample)
		}
		if err := p.supported(); err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
	}

	// Pixel data is read before the sample buffer is sized from the header.
	pixels := make([][]byte, len(pages))
	for i, p := range pages {
		buf, err := d.readPixels(p)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pixels[i] = buf
	}

	dtype, _ := first.dtype()
	perPage := first.width * first.height * first.samplesPerPixel
	raw := &models.RawArray{
		Channels: first.samplesPerPixel,
		DType:    dtype,
		Samples:  make([]float64, perPage*len(pages)),
	}
	if len(pages) == 1 {
		raw.Shape = models.Shape{first.height, first.width}
	} else {
		raw.Shape = models.Shape{len(pages), first.height, first.width}
	}
	for i, p := range pages {
		samples(pixels[i], p, d.order, raw.Samples[i*perPage:(i+1)*perPage])
	}
	return raw, nil
}

// DecodeBytes is Decode over an in-memory file.
func DecodeBytes(data []byte) (*models.RawArray, error) {
	return Decode(bytes.NewReader(data))
}

// Dims returns the shape Decode would produce without reading pixel data. It
// rejects the same oversized headers Decode does.
func Dims(r io.ReaderAt) (models.Shape, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, err
	}
	pages, err := d.pages()
	if err != nil {
		return nil, err
	}
	if err := d.checkBudget(pages); err != nil {
		return nil, err
	}
	first := pages[0]
	if len(pages) == 1 {
		return models.Shape{first.height, first.width}, nil
	}
	return models.Shape{len(pages), first.height, first.width}, nil
}

func decodeFallback(r io.ReaderAt) (*models.RawArray, error) {
	img, err := tiff.Decode(io.NewSectionReader(r, 0, math.MaxInt64))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return canonical.FromImage(img), nil
}
