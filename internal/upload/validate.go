package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLength is how many leading bytes are inspected when verifying the
// content of an upload. It matches the default read limit of mimetype.
const sniffLength = 3072

var (
	// AllowedExtensions lists the accepted image extensions, lowercase and
	// without the leading dot.
	AllowedExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp"}

	// AllowedContentTypes lists the client-declared MIME types accepted for
	// uploads.
	AllowedContentTypes = []string{
		"image/jpeg",
		"image/jpg",
		"image/pjpeg",
		"image/png",
		"image/gif",
		"image/bmp",
		"image/x-bmp",
		"image/x-ms-bmp",
	}

	// sniffedContentTypes are the types mimetype reports for the accepted
	// formats.
	sniffedContentTypes = []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/bmp",
	}
)

// HasImageExtension reports whether filename ends in one of the
// AllowedExtensions, ignoring case.
func HasImageExtension(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && slices.Contains(AllowedExtensions, ext)
}

// IsImageContentType reports whether contentType is one of the
// AllowedContentTypes. Parameters such as charset are ignored.
func IsImageContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return slices.Contains(AllowedContentTypes, strings.ToLower(mediaType))
}

// Validate reports whether an upload's filename and declared content type
// are both on the allow-list. It is a cheap first filter on client supplied
// values and does not look at the payload; see VerifyContent.
func Validate(filename string, contentType string) bool {
	return HasImageExtension(filename) && IsImageContentType(contentType)
}

// VerifyContent inspects the leading bytes of r and fails with
// ErrInvalidUpload unless they identify one of the accepted image formats.
// The returned reader yields the complete original stream, including the
// bytes consumed during detection.
func VerifyContent(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLength)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, fmt.Errorf("read upload header: %w", err)
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	if !mimetype.EqualsAny(detected.String(), sniffedContentTypes...) {
		return detected.String(), nil, fmt.Errorf("%w: content looks like %s", ErrInvalidUpload, detected.String())
	}

	return detected.String(), io.MultiReader(bytes.NewReader(head), r), nil
}
