package volumeio

import "errors"

// Load and save failures. They are recoverable: the caller should ask the user
// for another file.
var (
	// ErrNotFound reports a path that does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrUnsupportedFormat reports an extension that is not recognized, or a
	// single-image format asked to hold a 3D stack.
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrDecode reports bytes that cannot be parsed as the claimed format.
	ErrDecode = errors.New("cannot decode image data")
)
