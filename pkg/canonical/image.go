package canonical

import (
	"image"
	"image/color"

	"proofread/internal/models"
)

// FromImage converts a decoded image into raw samples, keeping the source bit
// depth: 16-bit images stay Uint16 so that ToUint8 stretches them. Color images
// keep three channels; alpha is dropped.
func FromImage(img image.Image) *models.RawArray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	raw := &models.RawArray{Shape: models.Shape{h, w}}

	switch src := img.(type) {
	case *image.Gray:
		raw.Channels, raw.DType = 1, models.Uint8
		raw.Samples = make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				raw.Samples[y*w+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray16:
		raw.Channels, raw.DType = 1, models.Uint16
		raw.Samples = make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				raw.Samples[y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.RGBA64, *image.NRGBA64:
		raw.Channels, raw.DType = 3, models.Uint16
		raw.Samples = make([]float64, w*h*3)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				i := (y*w + x) * 3
				raw.Samples[i], raw.Samples[i+1], raw.Samples[i+2] = float64(c.R), float64(c.G), float64(c.B)
			}
		}
	default:
		raw.Channels, raw.DType = 3, models.Uint8
		raw.Samples = make([]float64, w*h*3)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				i := (y*w + x) * 3
				raw.Samples[i], raw.Samples[i+1], raw.Samples[i+2] = float64(c.R), float64(c.G), float64(c.B)
			}
		}
	}
	return raw
}
