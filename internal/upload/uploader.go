package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
)

// Request is an incoming upload as received from a client.
type Request struct {
	OriginalFilename    string
	DeclaredContentType string
	Body                io.Reader
}

// Uploader runs an upload through validation, naming and storage.
type Uploader struct {
	store  *Store
	clock  clock.Clock
	verify bool
}

// NewUploader returns an Uploader writing to store. When verify is set, the
// payload's leading bytes must also identify an accepted image format.
func NewUploader(store *Store, clk clock.Clock, verify bool) *Uploader {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Uploader{store: store, clock: clk, verify: verify}
}

// Store returns the store uploads are written to.
func (u *Uploader) Store() *Store {
	return u.store
}

// baseName strips any client supplied directory components, including
// Windows style ones, and leading dots so that uploads never become hidden
// files.
func baseName(filename string) string {
	return strings.TrimLeft(path.Base(strings.ReplaceAll(filename, `\`, "/")), ".")
}

// Accept validates req, derives a unique name for it and writes it to the
// store.
func (u *Uploader) Accept(ctx context.Context, req Request) (StoredFile, error) {
	original := baseName(req.OriginalFilename)
	if !Validate(original, req.DeclaredContentType) {
		return StoredFile{}, fmt.Errorf("%w: %q with content type %q is not a supported image",
			ErrInvalidUpload, original, req.DeclaredContentType)
	}

	body := req.Body
	if u.verify {
		_, verified, err := VerifyContent(body)
		if err != nil {
			return StoredFile{}, err
		}
		body = verified
	}

	name := DeriveName(original, u.clock.Now().Unix())
	stored, err := u.store.Store(ctx, body, name)
	if err != nil {
		return StoredFile{}, err
	}

	slog.Info("Stored upload", "name", stored.Filename, "original", original, "size", humanize.Bytes(uint64(stored.Size)))
	return stored, nil
}
