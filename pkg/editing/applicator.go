// Package editing writes client-submitted slice bitmaps into a mask.
//
// Every edit replaces a whole slice: after ApplyEdit the slice looks exactly like
// the thresholded bitmap. Turning brush strokes into a full bitmap is the
// client's job. The functions mutate the mask in place and are not synchronized;
// callers must serialize concurrent edits.
package editing

import (
	"errors"
	"image"

	"proofread/internal/models"
	"proofread/pkg/logging"
	"proofread/pkg/resample"
)

// Threshold is the gray level above which a bitmap pixel is foreground.
const Threshold = 127

// ErrBadBitmap marks a submitted bitmap that could not be decoded.
var ErrBadBitmap = errors.New("invalid slice bitmap")

// ClampZ maps z into [0, depth-1]. Stale clients may send indices outside the
// stack; they are clamped rather than rejected.
func ClampZ(z, depth int) int {
	if z < 0 || depth <= 0 {
		return 0
	}
	if z >= depth {
		return depth - 1
	}
	return z
}

// Binarize thresholds a bitmap into a 0/1 plane of its own size.
func Binarize(bitmap image.Image) (plane []uint8, h, w int) {
	gray := resample.ToGray(bitmap)
	b := gray.Bounds()
	plane = make([]uint8, len(gray.Pix))
	for i, v := range gray.Pix {
		if v > Threshold {
			plane[i] = 1
		}
	}
	return plane, b.Dy(), b.Dx()
}

// ApplyEdit replaces slice z of mask with bitmap and returns mask. The bitmap is
// thresholded and, if its size differs from the mask plane, resized with
// nearest-neighbor sampling. z is ignored for 2D masks and clamped for 3D masks.
func ApplyEdit(mask *models.Array, z int, bitmap image.Image) *models.Array {
	if mask.Rank() < 2 || bitmap == nil {
		return mask
	}
	plane, h, w := Binarize(bitmap)
	mh, mw := mask.Height(), mask.Width()
	if h != mh || w != mw {
		logging.Debugf("Resampling %dx%d bitmap to %dx%d mask plane", w, h, mw, mh)
		plane = resample.Nearest(plane, h, w, mh, mw)
	}

	if mask.Rank() == 2 {
		mask.SetPlane(0, plane)
		return mask
	}
	if mask.Depth() == 0 {
		return mask
	}
	cz := ClampZ(z, mask.Depth())
	if cz != z {
		logging.Warningf("Slice index %d out of range [0, %d), clamped to %d", z, mask.Depth(), cz)
	}
	mask.SetPlane(cz, plane)
	return mask
}

// ApplyBatch applies edits in order, so the last edit for a slice wins.
func ApplyBatch(mask *models.Array, edits []models.SliceEdit) *models.Array {
	for _, e := range edits {
		ApplyEdit(mask, e.Z, e.Bitmap)
	}
	return mask
}

// Apply normalizes req to its batch form and applies it.
func Apply(mask *models.Array, req models.EditRequest) *models.Array {
	if req == nil {
		return mask
	}
	return ApplyBatch(mask, req.Edits())
}
