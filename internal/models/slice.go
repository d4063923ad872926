package models

import (
	"image"
)

// SliceEdit replaces the whole content of one mask slice
type SliceEdit struct {
	// Z is the slice index. It is ignored for 2D masks.
	Z int

	// Bitmap is the submitted slice at any resolution. Pixels brighter than 127
	// are foreground.
	Bitmap image.Image
}

// EditRequest is either a SingleEdit or a BatchEdit. Edits returns the
// request in its normalized batch form.
type EditRequest interface {
	Edits() []SliceEdit
	isEditRequest()
}

// SingleEdit is a request carrying exactly one slice.
type SingleEdit struct {
	Edit SliceEdit
}

// Edits returns the single edit as a batch of one.
func (s SingleEdit) Edits() []SliceEdit { return []SliceEdit{s.Edit} }

func (SingleEdit) isEditRequest() {}

// BatchEdit is an ordered list of slice edits. Later entries for the same
// slice index override earlier ones.
type BatchEdit struct {
	List []SliceEdit
}

// Edits returns the batch unchanged.
func (b BatchEdit) Edits() []SliceEdit { return b.List }

func (BatchEdit) isEditRequest() {}

// LoadMode records where the current image came from
type LoadMode string

const (
	LoadFromPath   LoadMode = "path"
	LoadFromUpload LoadMode = "upload"
)
