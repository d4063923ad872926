// Package volumeio is the file boundary of proofread: it loads images and stacks
// into canonical volumes, loads raw masks, renders slices as PNG and persists
// edited masks.
package volumeio

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/bmp"

	"proofread/internal/models"
	"proofread/pkg/canonical"
	"proofread/pkg/logging"
	"proofread/pkg/orientation"
	"proofread/pkg/tiffstack"
)

// Kind groups extensions by how they are stored.
type Kind int

const (
	Unknown Kind = iota
	// Image is a single 2D raster (.png, .jpg, .jpeg, .bmp).
	Image
	// Stack is a TIFF file holding one or more pages (.tif, .tiff).
	Stack
)

// Ext returns the lower-cased extension of name, including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// KindOf classifies a file name by its extension.
func KindOf(name string) Kind {
	switch Ext(name) {
	case ".png", ".jpg", ".jpeg", ".bmp":
		return Image
	case ".tif", ".tiff":
		return Stack
	}
	return Unknown
}

// LoadOptions controls LoadVolume.
type LoadOptions struct {
	// Override forces ZAxis (0, 1 or 2 of the raw stack) to become the slice axis
	// instead of letting the smallest-axis heuristic decide.
	Override bool
	ZAxis    int
}

func (o LoadOptions) zAxis() int {
	if o.Override {
		return o.ZAxis
	}
	return orientation.Auto
}

// LoadVolume reads an image or stack from path and returns it in canonical layout:
// uint8, shaped (H, W) or (Z, H, W).
func LoadVolume(path string, opts LoadOptions) (*models.Array, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return LoadVolumeBytes(path, data, opts)
}

// LoadVolumeBytes is LoadVolume for file content already in memory. name only
// supplies the extension.
func LoadVolumeBytes(name string, data []byte, opts LoadOptions) (*models.Array, error) {
	tlog := logging.NewTimeLog()
	raw, err := DecodeRaw(name, data)
	if err != nil {
		return nil, err
	}
	if r := len(raw.Shape); r != 2 && r != 3 {
		return nil, fmt.Errorf("%w: %s has %d dimensions, expected 2 or 3", ErrDecode, name, r)
	}

	vol := canonical.ToUint8(raw)
	if vol.Rank() == 2 {
		tlog.Infof("Loaded 2D image %s: shape=%v (%s, %s)", filepath.Base(name), vol.Shape,
			raw.DType, humanize.Bytes(uint64(len(data))))
		return vol, nil
	}

	logging.Debugf("Raw stack shape: %v", vol.Shape)
	oriented, err := orientation.ResolveWith(vol, opts.zAxis())
	if err != nil {
		return nil, err
	}
	if !oriented.Shape.Equal(vol.Shape) {
		logging.Infof("Auto-transposed stack %v -> (Z, H, W) %v", vol.Shape, oriented.Shape)
	}
	tlog.Infof("Loaded 3D stack %s: shape=%v (%s, %s)", filepath.Base(name), oriented.Shape,
		raw.DType, humanize.Bytes(uint64(len(data))))
	return oriented, nil
}

// LoadMask reads a mask file without canonicalizing or reorienting it; alignment
// against the volume happens later. An empty path means no mask and returns nil.
func LoadMask(path string) (*models.RawArray, error) {
	if path == "" {
		return nil, nil
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return LoadMaskBytes(path, data)
}

// LoadMaskBytes is LoadMask for file content already in memory.
func LoadMaskBytes(name string, data []byte) (*models.RawArray, error) {
	raw, err := DecodeRaw(name, data)
	if err != nil {
		return nil, err
	}
	logging.Debugf("Loaded mask %s: raw shape=%v %s", filepath.Base(name), raw.Shape, raw.DType)
	return raw, nil
}

// DecodeRaw decodes file content according to the extension of name.
func DecodeRaw(name string, data []byte) (*models.RawArray, error) {
	switch KindOf(name) {
	case Image:
		img, err := decodeImage(name, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(name), err)
		}
		return canonical.FromImage(img), nil
	case Stack:
		raw, err := tiffstack.DecodeBytes(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(name), err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, Ext(name))
}

func decodeImage(name string, r io.Reader) (image.Image, error) {
	switch Ext(name) {
	case ".png":
		return png.Decode(r)
	case ".jpg", ".jpeg":
		return jpeg.Decode(r)
	case ".bmp":
		return bmp.Decode(r)
	}
	return nil, fmt.Errorf("no image decoder for %q", Ext(name))
}

// Probe returns the raw dimensions of a file without canonicalizing it: (H, W)
// for images and single-page TIFFs, (pages, H, W) for stacks.
func Probe(name string, r io.Reader) (models.Shape, error) {
	switch KindOf(name) {
	case Image:
		var cfg image.Config
		var err error
		switch Ext(name) {
		case ".png":
			cfg, err = png.DecodeConfig(r)
		case ".jpg", ".jpeg":
			cfg, err = jpeg.DecodeConfig(r)
		case ".bmp":
			cfg, err = bmp.DecodeConfig(r)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(name), err)
		}
		return models.Shape{cfg.Height, cfg.Width}, nil
	case Stack:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		shape, err := tiffstack.Dims(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(name), err)
		}
		return shape, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, Ext(name))
}

// readFile reads path, reporting a missing file as ErrNotFound and an unknown
// extension as ErrUnsupportedFormat.
func readFile(path string) ([]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if KindOf(path) == Unknown {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
