package upload

import "errors"

var (
	// ErrInvalidUpload is returned when an upload fails the extension or
	// content type allow-list.
	ErrInvalidUpload = errors.New("invalid upload")

	// ErrWrite is returned when an upload could not be written to the upload
	// directory.
	ErrWrite = errors.New("write upload")

	// ErrMissingImage is returned when a referenced preset or uploaded image
	// does not exist on disk.
	ErrMissingImage = errors.New("image does not exist")

	// ErrUnsupportedFormat is returned when an image's extension is not one of
	// the accepted image formats.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)
