package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/a-h/templ"
	"github.com/juju/clock"

	"imagelab/internal/classify"
	"imagelab/internal/filter"
	"imagelab/internal/gallery"
	"imagelab/internal/index"
	"imagelab/internal/ui"
	"imagelab/internal/upload"
)

const (
	UploadsURLPrefix = "/static/user_images/"
	PresetsURLPrefix = "/static/imagenet_subset/"

	// multipartMemory is how much of a multipart body is kept in memory
	// before parts spill to temporary files.
	multipartMemory = 1 << 20

	recentUploadsLimit = 50
)

// Mirror receives a copy of every stored upload.
type Mirror interface {
	Put(ctx context.Context, file upload.StoredFile, contentType string) error
}

type Config struct {
	Uploader       *upload.Uploader
	Gallery        *gallery.Gallery
	Classifier     classify.Classifier
	Index          *index.Index
	Mirror         Mirror
	MaxUploadBytes int64
	Clock          clock.Clock
}

// Server serves the image lab pages and JSON endpoints.
type Server struct {
	cfg Config
}

// NewServer checks cfg and returns a Server. Index and Mirror are optional.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Uploader == nil:
		return nil, errors.New("uploader must be set")
	case cfg.Gallery == nil:
		return nil, errors.New("gallery must be set")
	case cfg.Classifier == nil:
		return nil, errors.New("classifier must be set")
	case cfg.MaxUploadBytes <= 0:
		return nil, fmt.Errorf("max upload bytes must be positive, got %d", cfg.MaxUploadBytes)
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	return &Server{cfg: cfg}, nil
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrInvalidUpload),
		errors.Is(err, upload.ErrUnsupportedFormat),
		errors.Is(err, classify.ErrUnknownModel),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrMissingImage):
		return http.StatusNotFound
	case errors.Is(err, classify.ErrClassification):
		return http.StatusBadGateway
	case errors.Is(err, filter.ErrFilter), errors.Is(err, upload.ErrWrite):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// writeError logs err and renders it as an HTML error page.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
	}
	s.render(w, r, status, ui.ErrorPage(status, err.Error()))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("Failed to render page", "error", err, "path", r.URL.Path)
	}
}
