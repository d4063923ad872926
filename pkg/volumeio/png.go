package volumeio

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"proofread/internal/models"
	"proofread/pkg/editing"
	"proofread/pkg/resample"
)

// EncodeSlicePNG renders slice z of a volume as an 8-bit grayscale PNG. z is
// clamped into range and ignored for 2D volumes.
func EncodeSlicePNG(a *models.Array, z int) ([]byte, error) {
	plane, err := slicePlane(a, z)
	if err != nil {
		return nil, err
	}
	return EncodePNG(plane, a.Height(), a.Width())
}

// EncodeMaskSlicePNG renders slice z of a mask with foreground as 255.
func EncodeMaskSlicePNG(mask *models.Array, z int) ([]byte, error) {
	plane, err := slicePlane(mask, z)
	if err != nil {
		return nil, err
	}
	scaled := make([]uint8, len(plane))
	for i, v := range plane {
		if v != 0 {
			scaled[i] = 255
		}
	}
	return EncodePNG(scaled, mask.Height(), mask.Width())
}

// EncodePNG encodes a row-major h x w plane.
func EncodePNG(plane []uint8, h, w int) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, resample.GrayView(plane, h, w)); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBitmap decodes a submitted slice bitmap (PNG, JPEG or BMP).
func DecodeBitmap(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", editing.ErrBadBitmap, err)
	}
	return img, nil
}

func slicePlane(a *models.Array, z int) ([]uint8, error) {
	switch a.Rank() {
	case 2:
		return a.Plane(0), nil
	case 3:
		if a.Depth() == 0 {
			return nil, fmt.Errorf("empty stack %v", a.Shape)
		}
		return a.Plane(editing.ClampZ(z, a.Depth())), nil
	}
	return nil, fmt.Errorf("cannot render rank %d array", a.Rank())
}
