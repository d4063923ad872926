// Package resample resizes 2D label planes without mixing values.
package resample

import (
	"image"
	"image/color"
)

// Nearest resizes a row-major srcH x srcW plane to dstH x dstW using nearest-neighbor
// sampling, so every output value is copied from some input value. Output pixel
// (dy, dx) reads source pixel (dy*srcH/dstH, dx*srcW/dstW), rounded down.
func Nearest(src []uint8, srcH, srcW, dstH, dstW int) []uint8 {
	if srcH == dstH && srcW == dstW {
		return append([]uint8(nil), src...)
	}
	dst := make([]uint8, dstH*dstW)
	if srcH == 0 || srcW == 0 {
		return dst
	}
	cols := make([]int, dstW)
	for dx := range cols {
		cols[dx] = dx * srcW / dstW
	}
	for dy := 0; dy < dstH; dy++ {
		row := src[(dy*srcH/dstH)*srcW:]
		out := dst[dy*dstW : (dy+1)*dstW]
		for dx, sx := range cols {
			out[dx] = row[sx]
		}
	}
	return dst
}

// GrayView wraps a row-major plane as an *image.Gray without copying.
func GrayView(data []uint8, h, w int) *image.Gray {
	return &image.Gray{Pix: data, Stride: w, Rect: image.Rect(0, 0, w, h)}
}

// ToGray returns img as a tightly packed *image.Gray with origin (0, 0).
// Colors are taken non-premultiplied, so alpha does not darken a pixel.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) && g.Stride == b.Dx() {
		return g
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := out.Pix[(y-b.Min.Y)*out.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			row[x-b.Min.X] = luma(c)
		}
	}
	return out
}

// luma is the ITU-R 601-2 luminance of c, rounded.
func luma(c color.NRGBA) uint8 {
	return uint8((299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B) + 500) / 1000)
}
