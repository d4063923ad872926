// Package orientation decides which axis of a 3D stack is the slice axis and
// reorders the stack to (Z, H, W).
//
// The decision is a heuristic: slice counts are usually much smaller than the
// in-plane resolution, so a strictly smallest non-leading axis is taken as Z.
// Ambiguous shapes are left untouched.
package orientation

import (
	"fmt"

	"proofread/internal/models"
)

// Auto selects the Z axis with the smallest-axis heuristic.
const Auto = -1

// Decide returns the axis of shape that should become Z. 2D shapes always return 0.
func Decide(shape models.Shape) int {
	if len(shape) != 3 {
		return 0
	}
	d0, d1, d2 := shape[0], shape[1], shape[2]
	switch {
	case d1 < d0 && d1 < d2:
		return 1
	case d2 < d0 && d2 < d1:
		return 2
	}
	return 0
}

// MoveToFront returns the permutation that moves axis to position 0 and keeps the
// other two axes in their existing order.
func MoveToFront(axis int) []int {
	switch axis {
	case 1:
		return []int{1, 0, 2}
	case 2:
		return []int{2, 0, 1}
	}
	return []int{0, 1, 2}
}

// Resolve reorders a into (Z, H, W) using the smallest-axis heuristic.
// 2D arrays and shapes the heuristic cannot decide are returned unchanged.
func Resolve(a *models.Array) *models.Array {
	out, _ := ResolveWith(a, Auto)
	return out
}

// ResolveWith is Resolve with a caller override: zAxis of 0, 1 or 2 forces that
// axis to become Z, Auto applies the heuristic.
func ResolveWith(a *models.Array, zAxis int) (*models.Array, error) {
	if a.Rank() != 3 {
		return a, nil
	}
	if zAxis == Auto {
		zAxis = Decide(a.Shape)
	}
	if zAxis < 0 || zAxis > 2 {
		return nil, fmt.Errorf("z axis must be 0, 1, 2 or %d (auto), got %d", Auto, zAxis)
	}
	if zAxis == 0 {
		return a, nil
	}
	return a.Transpose(MoveToFront(zAxis))
}
