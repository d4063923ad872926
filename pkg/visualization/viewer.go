// Package visualization renders canonical volumes and their masks as images
// for previews outside the browser client.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"proofread/internal/models"
	"proofread/pkg/logging"
)

// OverlayColor tints mask foreground in overlays.
var OverlayColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}

// overlayAlpha is the weight of OverlayColor over the gray value, in 1/256.
const overlayAlpha = 128

// Viewer extracts orthogonal slices of a (Z, H, W) volume and its mask. 2D
// volumes are treated as a single slice.
type Viewer struct {
	volume *models.Array
	mask   *models.Array

	width  int
	height int
	depth  int
}

// NewViewer creates a viewer for volume. mask may be nil; otherwise it must have
// the volume's shape.
func NewViewer(volume, mask *models.Array) (*Viewer, error) {
	if volume.Rank() != 2 && volume.Rank() != 3 {
		return nil, fmt.Errorf("volume must be 2D or 3D, got shape %v", volume.Shape)
	}
	if mask != nil && !mask.Shape.Equal(volume.Shape) {
		return nil, fmt.Errorf("mask shape %v does not match volume %v", mask.Shape, volume.Shape)
	}
	return &Viewer{
		volume: volume,
		mask:   mask,
		width:  volume.Width(),
		height: volume.Height(),
		depth:  volume.Depth(),
	}, nil
}

// ExtractSlice extracts a 2D slice of the volume along the specified axis: "z"
// gives the (H, W) plane, "y" a (Z, W) plane and "x" a (H, Z) plane.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	return v.extract(v.volume, axis, position, 1)
}

// ExtractMaskSlice is ExtractSlice for the mask with foreground as 255. A
// viewer without a mask returns a black slice.
func (v *Viewer) ExtractMaskSlice(axis string, position int) (*image.Gray, error) {
	if v.mask == nil {
		return v.extract(models.NewArray(v.volume.Shape), axis, position, 255)
	}
	return v.extract(v.mask, axis, position, 255)
}

func (v *Viewer) extract(a *models.Array, axis string, position int, scale uint8) (*image.Gray, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	plane := v.width * v.height
	value := func(idx int) uint8 {
		if scale == 1 {
			return a.Data[idx]
		}
		if a.Data[idx] != 0 {
			return scale
		}
		return 0
	}

	var img *image.Gray
	switch axis {
	case "x", "X":
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.Pix[y*img.Stride+z] = value(z*plane + y*v.width + position)
			}
		}

	case "y", "Y":
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.Pix[z*img.Stride+x] = value(z*plane + position*v.width + x)
			}
		}

	case "z", "Z":
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray(image.Rect(0, 0, v.width, v.height))
		for i := 0; i < plane; i++ {
			img.Pix[i] = value(position*plane + i)
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return img, nil
}

// Overlay returns slice z of the volume with mask foreground tinted by
// OverlayColor.
func (v *Viewer) Overlay(z int) (*image.RGBA, error) {
	gray, err := v.ExtractSlice("z", z)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(gray.Bounds())
	plane := v.width * v.height
	for i, g := range gray.Pix {
		r, gg, b := g, g, g
		if v.mask != nil && v.mask.Data[z*plane+i] != 0 {
			r = blend(g, OverlayColor.R)
			gg = blend(g, OverlayColor.G)
			b = blend(g, OverlayColor.B)
		}
		out.Pix[i*4] = r
		out.Pix[i*4+1] = gg
		out.Pix[i*4+2] = b
		out.Pix[i*4+3] = 255
	}
	return out, nil
}

func blend(base, tint uint8) uint8 {
	return uint8((int(base)*(256-overlayAlpha) + int(tint)*overlayAlpha) >> 8)
}

// ExtractRegion extracts a (sizeZ, sizeY, sizeX) subvolume starting at
// (startZ, startY, startX).
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*models.Array, error) {
	return v.region(v.volume, startX, startY, startZ, sizeX, sizeY, sizeZ)
}

// Crop returns a viewer over the region ExtractRegion would return, with the
// mask cropped the same way.
func (v *Viewer) Crop(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*Viewer, error) {
	volume, err := v.ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ)
	if err != nil {
		return nil, err
	}
	var mask *models.Array
	if v.mask != nil {
		if mask, err = v.region(v.mask, startX, startY, startZ, sizeX, sizeY, sizeZ); err != nil {
			return nil, err
		}
	}
	return NewViewer(volume, mask)
}

func (v *Viewer) region(a *models.Array, startX, startY, startZ, sizeX, sizeY, sizeZ int) (*models.Array, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if startX+sizeX > v.width || startY+sizeY > v.height || startZ+sizeZ > v.depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := models.NewArray(models.Shape{sizeZ, sizeY, sizeX})
	for z := 0; z < sizeZ; z++ {
		src := a.Plane(startZ + z)
		dst := region.Plane(z)
		for y := 0; y < sizeY; y++ {
			copy(dst[y*sizeX:(y+1)*sizeX], src[(startY+y)*v.width+startX:])
		}
	}
	return region, nil
}

// ParseRegion parses "x,y,z,sx,sy,sz" into the arguments of ExtractRegion.
func ParseRegion(s string) ([6]int, error) {
	var r [6]int
	parts := strings.Split(s, ",")
	if len(parts) != len(r) {
		return r, fmt.Errorf("region %q: expected x,y,z,sx,sy,sz", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return r, fmt.Errorf("region %q: %v", s, err)
		}
		r[i] = n
	}
	return r, nil
}

// SaveSlice saves an image as PNG.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
// Along z, slices are written as mask overlays.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		var img image.Image
		var err error
		if axis == "z" || axis == "Z" {
			img, err = v.Overlay(pos)
		} else {
			img, err = v.ExtractSlice(axis, pos)
		}
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	logging.Infof("Wrote %d %s-slices to %s", maxPos, axis, outputDir)
	return nil
}
