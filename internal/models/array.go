package models

import (
	"fmt"
	"strings"
)

// Shape holds the extent of each axis of a grid, slowest axis first.
// Canonical shapes are (H, W) for 2D images and (Z, H, W) for stacks.
type Shape []int

// Equal reports whether two shapes have the same rank and extents.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Size returns the number of elements described by the shape.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Permute returns the shape reordered so that axis i of the result is axis perm[i] of s.
// It returns nil if perm is not a permutation of s's axes.
func (s Shape) Permute(perm []int) Shape {
	if len(perm) != len(s) || !isPermutation(perm) {
		return nil
	}
	out := make(Shape, len(s))
	for i, p := range perm {
		out[i] = s[p]
	}
	return out
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, " × ")
}

func isPermutation(perm []int) bool {
	seen := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}

// DType identifies the sample type an image was stored with before canonicalization.
type DType int

const (
	Uint8 DType = iota
	Uint16
	Uint32
	Int8
	Int16
	Int32
	Float32
	Float64
)

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// RawArray holds decoded samples exactly as they were read from a file.
type RawArray struct {
	// Shape is the spatial shape, excluding the channel axis.
	Shape Shape

	// Channels is the number of interleaved samples per pixel (1 gray, 2 gray+alpha,
	// 3 RGB, 4 RGBA). Zero is treated as 1.
	Channels int

	// DType is the source sample type.
	DType DType

	// Samples is the row-major data with channels last.
	Samples []float64
}

// NumChannels returns the channel count, defaulting to 1.
func (r *RawArray) NumChannels() int {
	if r.Channels <= 0 {
		return 1
	}
	return r.Channels
}

// Array is a canonical uint8 grid in row-major order. Volumes and masks share this
// representation; a mask additionally holds only the values 0 and 1.
type Array struct {
	Shape Shape
	Data  []uint8
}

// NewArray allocates a zero-filled array of the given shape.
func NewArray(shape Shape) *Array {
	return &Array{Shape: shape.Clone(), Data: make([]uint8, shape.Size())}
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{Shape: a.Shape.Clone(), Data: append([]uint8(nil), a.Data...)}
}

// Rank returns the number of axes.
func (a *Array) Rank() int { return len(a.Shape) }

// Depth returns the slice count; 2D arrays have a depth of 1.
func (a *Array) Depth() int {
	if len(a.Shape) == 3 {
		return a.Shape[0]
	}
	return 1
}

// Height returns the in-plane row count.
func (a *Array) Height() int { return a.Shape[len(a.Shape)-2] }

// Width returns the in-plane column count.
func (a *Array) Width() int { return a.Shape[len(a.Shape)-1] }

// Plane returns slice z as a view into Data. For 2D arrays z must be 0.
func (a *Array) Plane(z int) []uint8 {
	n := a.Height() * a.Width()
	return a.Data[z*n : (z+1)*n]
}

// SetPlane copies data into slice z.
func (a *Array) SetPlane(z int, data []uint8) {
	copy(a.Plane(z), data)
}

// Transpose returns a new array whose axis i is axis perm[i] of a.
func (a *Array) Transpose(perm []int) (*Array, error) {
	outShape := a.Shape.Permute(perm)
	if outShape == nil {
		return nil, fmt.Errorf("invalid permutation %v for shape %v", perm, a.Shape)
	}
	out := NewArray(outShape)
	rank := len(a.Shape)

	// srcStride[k] is the stride of source axis k; walking the output in order we
	// advance along source axis perm[i] for output axis i.
	srcStride := make([]int, rank)
	stride := 1
	for k := rank - 1; k >= 0; k-- {
		srcStride[k] = stride
		stride *= a.Shape[k]
	}
	step := make([]int, rank)
	for i, p := range perm {
		step[i] = srcStride[p]
	}

	idx := make([]int, rank)
	src := 0
	for dst := range out.Data {
		out.Data[dst] = a.Data[src]
		for i := rank - 1; i >= 0; i-- {
			idx[i]++
			src += step[i]
			if idx[i] < outShape[i] {
				break
			}
			src -= step[i] * outShape[i]
			idx[i] = 0
		}
	}
	return out, nil
}

// Binarize maps every nonzero element to 1 in place and returns a.
func (a *Array) Binarize() *Array {
	for i, v := range a.Data {
		if v != 0 {
			a.Data[i] = 1
		}
	}
	return a
}

// IsBinary reports whether every element is 0 or 1.
func (a *Array) IsBinary() bool {
	for _, v := range a.Data {
		if v > 1 {
			return false
		}
	}
	return true
}

// CountNonzero returns the number of foreground elements.
func (a *Array) CountNonzero() int {
	n := 0
	for _, v := range a.Data {
		if v != 0 {
			n++
		}
	}
	return n
}
