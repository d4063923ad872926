package volumeio

import (
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/bmp"

	"proofread/internal/models"
	"proofread/pkg/logging"
	"proofread/pkg/resample"
	"proofread/pkg/tiffstack"
)

// SaveOptions controls PersistMask.
type SaveOptions struct {
	// Compression applies to TIFF output only.
	Compression tiffstack.Compression
}

// PersistMask writes mask to path, creating parent directories. TIFF targets
// receive every slice as a binarized uint8 stack (values 0 and 1). Single-image
// targets (.png, .jpg, .jpeg, .bmp) receive a 2D mask scaled to 0/255; a 3D mask
// cannot be written to them.
func PersistMask(mask *models.Array, path string, opts SaveOptions) error {
	kind := KindOf(path)
	if kind == Unknown {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, Ext(path))
	}
	if kind == Image && mask.Rank() != 2 {
		return fmt.Errorf("%w: cannot store %d-slice mask as %s", ErrUnsupportedFormat, mask.Depth(), Ext(path))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create mask directory: %w", err)
		}
	}

	out := mask.Clone().Binarize()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mask file: %w", err)
	}
	cw := &countingWriter{w: f}
	if kind == Stack {
		err = tiffstack.Encode(cw, out, tiffstack.EncodeOptions{Compression: opts.Compression})
	} else {
		err = encodeImage(cw, out, Ext(path))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write mask %s: %w", path, err)
	}
	logging.Infof("Saved mask -> %s (%v, %s)", path, out.Shape, humanize.Bytes(uint64(cw.n)))
	return nil
}

func encodeImage(w io.Writer, mask *models.Array, ext string) error {
	scaled := make([]uint8, len(mask.Data))
	for i, v := range mask.Data {
		if v != 0 {
			scaled[i] = 255
		}
	}
	img := resample.GrayView(scaled, mask.Height(), mask.Width())
	switch ext {
	case ".png":
		return png.Encode(w, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 100})
	case ".bmp":
		return bmp.Encode(w, img)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// MaskPathFor returns where the mask of imagePath is saved: "<base>_mask<ext>"
// next to the image, or in uploadDir when the image was uploaded or no longer
// exists. name overrides the base name for uploads. PNG and BMP images keep their
// extension, JPEG images get a lossless .png mask, and everything else a .tif stack.
func MaskPathFor(imagePath, name, uploadDir string, uploaded bool) string {
	dir := filepath.Dir(imagePath)
	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	_, statErr := os.Stat(imagePath)
	if uploaded || imagePath == "" || statErr != nil {
		dir = uploadDir
		if name != "" {
			base = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		}
		if base == "" || base == "." {
			base = "image"
		}
	}

	ext := ".tif"
	switch Ext(imagePath) {
	case ".png", ".bmp":
		ext = Ext(imagePath)
	case ".jpg", ".jpeg":
		ext = ".png"
	}
	return filepath.Join(dir, base+"_mask"+ext)
}
