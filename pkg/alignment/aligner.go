// Package alignment makes a mask's shape match the volume it belongs to.
//
// Masks and volumes often come out of different pipelines, so a mask may store
// the same voxels in another axis order, or even at another resolution. Align
// always returns a binary uint8 mask of exactly the target shape: it prefers an
// exact match, then the first axis permutation that fits, and finally falls back
// to resampling one representative slice. The fallback is lossy and is reported
// in Result so callers can warn the user.
package alignment

import (
	"errors"
	"fmt"

	"proofread/internal/models"
	"proofread/pkg/canonical"
	"proofread/pkg/logging"
	"proofread/pkg/resample"
)

// ErrShapeMismatch records that no permutation of the mask fits the target.
// It is reported through Result.Cause and never returned.
var ErrShapeMismatch = errors.New("mask shape cannot be permuted to volume shape")

// Method names how a mask was brought to the target shape.
type Method string

const (
	Empty     Method = "empty"
	Exact     Method = "exact"
	Reshaped  Method = "reshaped"
	Permuted  Method = "permuted"
	Resampled Method = "resampled"
)

// Candidates lists the axis permutations tried for 3D masks, in priority order:
// identity, swap first two, reverse, (H,W,Z)->(Z,H,W), (W,H,Z)->(Z,H,W), swap last two.
var Candidates = [][]int{
	{0, 1, 2},
	{1, 0, 2},
	{2, 1, 0},
	{1, 2, 0},
	{2, 0, 1},
	{0, 2, 1},
}

// candidates2D lists the permutations tried for 2D masks.
var candidates2D = [][]int{
	{0, 1},
	{1, 0},
}

// Result describes what Align did.
type Result struct {
	Method Method       `json:"method"`
	Perm   []int        `json:"perm,omitempty"`
	From   models.Shape `json:"from,omitempty"`
	To     models.Shape `json:"to"`

	// Lossy is set when per-slice variation of the mask was discarded.
	Lossy bool `json:"lossy"`

	// Cause holds ErrShapeMismatch when the resampling fallback ran.
	Cause error `json:"-"`
}

func (r Result) String() string {
	switch r.Method {
	case Permuted:
		return fmt.Sprintf("%s %v -> %v (axes %v)", r.Method, r.From, r.To, r.Perm)
	case Empty:
		return fmt.Sprintf("%s %v", r.Method, r.To)
	}
	return fmt.Sprintf("%s %v -> %v", r.Method, r.From, r.To)
}

// Align returns mask reshaped to target. A nil mask yields an all-zero mask.
// target must be a 2D or 3D shape.
func Align(mask *models.RawArray, target models.Shape) (*models.Array, Result) {
	res := Result{To: target.Clone()}
	if mask == nil {
		logging.Infof("No mask supplied, creating empty mask %v", target)
		res.Method = Empty
		return models.NewArray(target), res
	}

	m := canonical.ToUint8(mask)
	res.From = m.Shape.Clone()
	logging.Debugf("Raw mask shape: %v, target %v", m.Shape, target)

	if m.Shape.Equal(target) {
		res.Method = Exact
		return m.Binarize(), res
	}

	// A single-page stack reloads as 2D and vice versa; the voxels are the same.
	if squeeze(m.Shape).Equal(squeeze(target)) && m.Shape.Size() == target.Size() {
		logging.Infof("Reshaped mask %v -> %v", m.Shape, target)
		res.Method = Reshaped
		return (&models.Array{Shape: target.Clone(), Data: m.Data}).Binarize(), res
	}

	if perm := FindPermutation(m.Shape, target); perm != nil {
		out, err := m.Transpose(perm)
		if err == nil {
			logging.Infof("Auto-transposed mask axes %v: %v -> %v", perm, m.Shape, out.Shape)
			res.Method = Permuted
			res.Perm = perm
			return out.Binarize(), res
		}
	}

	logging.Warningf("Could not align mask %v to volume %v by permutation, resampling first slice (lossy)",
		m.Shape, target)
	res.Method = Resampled
	res.Lossy = true
	res.Cause = fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, m.Shape, target)
	return resampleToShape(m, target).Binarize(), res
}

// squeeze drops leading unit axes so (1, H, W) compares equal to (H, W).
func squeeze(s models.Shape) models.Shape {
	for len(s) > 2 && s[0] == 1 {
		s = s[1:]
	}
	return s
}

// FindPermutation returns the first candidate permutation that turns shape into
// target, or nil when none does or the ranks differ.
func FindPermutation(shape, target models.Shape) []int {
	if len(shape) != len(target) {
		return nil
	}
	var candidates [][]int
	switch len(shape) {
	case 3:
		candidates = Candidates
	case 2:
		candidates = candidates2D
	default:
		return nil
	}
	for _, perm := range candidates {
		if shape.Permute(perm).Equal(target) {
			return append([]int(nil), perm...)
		}
	}
	return nil
}

// resampleToShape resizes the representative slice of m (its first slice, or the
// whole array when 2D) to the target plane and repeats it along target Z.
func resampleToShape(m *models.Array, target models.Shape) *models.Array {
	out := models.NewArray(target)
	if len(target) < 2 || len(m.Shape) < 2 {
		return out
	}
	th, tw := target[len(target)-2], target[len(target)-1]
	var plane []uint8
	if m.Shape.Size() > 0 {
		plane = resample.Nearest(m.Plane(0), m.Height(), m.Width(), th, tw)
	} else {
		plane = make([]uint8, th*tw)
	}
	for z := 0; z < out.Depth(); z++ {
		out.SetPlane(z, plane)
	}
	return out
}
