package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"imagelab/internal/classify"
	"imagelab/internal/filter"
	"imagelab/internal/gallery"
	"imagelab/internal/index"
	"imagelab/internal/ui"
	"imagelab/internal/upload"
)

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Models []string `json:"models"`
	Images []string `json:"images"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// imageURL returns the public URL of an image from source.
func imageURL(source gallery.Source, id string) string {
	if source == gallery.Uploaded {
		return UploadsURLPrefix + url.PathEscape(id)
	}
	return PresetsURLPrefix + url.PathEscape(id)
}

// histogramDataURL returns the JSON histogram endpoint for an image.
func histogramDataURL(source gallery.Source, id string) string {
	u := "/histogram/" + url.PathEscape(id)
	if source == gallery.Uploaded {
		u += "?source=" + url.QueryEscape(string(gallery.Uploaded))
	}
	return u
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, ui.Home())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	images, err := s.cfg.Gallery.Presets()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, InfoResponse{Models: classify.Models, Images: images})
}

func (s *Server) handleClassificationSelect(w http.ResponseWriter, r *http.Request) {
	images, err := s.cfg.Gallery.Presets()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, ui.ClassificationSelect(images, classify.Models))
}

// classify runs the classifier and renders the result page.
func (s *Server) classify(w http.ResponseWriter, r *http.Request, displayName string, source gallery.Source, id string, path string, model string) {
	scores, err := s.cfg.Classifier.Classify(r.Context(), model, path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ranked := scores.Ranked()
	predictions := make([]ui.Prediction, 0, len(ranked))
	for _, score := range ranked {
		predictions = append(predictions, ui.Prediction{Label: score.Label, Score: score.Value})
	}

	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: encode scores: %w", classify.ErrClassification, err))
		return
	}

	s.render(w, r, http.StatusOK, ui.ClassificationOutput(displayName, imageURL(source, id), model, predictions, string(scoresJSON)))
}

func (s *Server) handleClassifyPreset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, badRequest("failed to parse form: %v", err))
		return
	}

	imageID := strings.TrimSpace(r.PostFormValue("image_id"))
	model := strings.TrimSpace(r.PostFormValue("model_id"))
	if !classify.IsKnownModel(model) {
		s.writeError(w, r, fmt.Errorf("%w: %q", classify.ErrUnknownModel, model))
		return
	}

	path, err := s.cfg.Gallery.Resolve(gallery.Preset, imageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.classify(w, r, imageID, gallery.Preset, imageID, path, model)
}

func (s *Server) handleClassifyUploadForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, ui.ClassifyUpload(classify.Models, humanize.IBytes(uint64(s.cfg.MaxUploadBytes))))
}

// parseUpload reads the multipart body of r, bounded by MaxUploadBytes. The
// caller removes the parsed form's temporary files.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return fmt.Errorf("%w: upload exceeds %s: %w",
				upload.ErrInvalidUpload, humanize.IBytes(uint64(s.cfg.MaxUploadBytes)), err)
		}
		return badRequest("failed to parse upload: %v", err)
	}
	return nil
}

// storeUpload accepts the file field of a parsed multipart form and records
// it in the index and the mirror. Index and mirror failures are logged only.
func (s *Server) storeUpload(r *http.Request, field string) (upload.StoredFile, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return upload.StoredFile{}, "", badRequest("missing %s file: %v", field, err)
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	stored, err := s.cfg.Uploader.Accept(r.Context(), upload.Request{
		OriginalFilename:    header.Filename,
		DeclaredContentType: contentType,
		Body:                file,
	})
	if err != nil {
		return upload.StoredFile{}, "", err
	}

	if s.cfg.Index != nil {
		err := s.cfg.Index.Record(r.Context(), index.Entry{
			Filename:         stored.Filename,
			OriginalFilename: header.Filename,
			ContentType:      contentType,
			Size:             stored.Size,
			CreatedAt:        stored.ModTime,
		})
		if err != nil {
			slog.Warn("Failed to index upload", "name", stored.Filename, "error", err)
		}
	}

	if s.cfg.Mirror != nil {
		if err := s.cfg.Mirror.Put(r.Context(), stored, contentType); err != nil {
			slog.Warn("Failed to mirror upload", "name", stored.Filename, "error", err)
		}
	}

	return stored, header.Filename, nil
}

func (s *Server) handleClassifyUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	model := strings.TrimSpace(r.FormValue("model_id"))
	if !classify.IsKnownModel(model) {
		s.writeError(w, r, fmt.Errorf("%w: %q", classify.ErrUnknownModel, model))
		return
	}

	stored, original, err := s.storeUpload(r, "image_file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.classify(w, r, original, gallery.Uploaded, stored.Filename, stored.Path, model)
}

func (s *Server) handleDownloadResults(w http.ResponseWriter, r *http.Request) {
	var scores map[string]any
	if err := json.Unmarshal([]byte(r.URL.Query().Get("scores")), &scores); err != nil {
		s.writeError(w, r, badRequest("scores must be a JSON object: %v", err))
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=results.json")
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleTransformSelect(w http.ResponseWriter, r *http.Request) {
	images, err := s.cfg.Gallery.Presets()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, ui.TransformSelect(images))
}

// parseFactor reads a float form value, returning def when absent.
func parseFactor(r *http.Request, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(r.PostFormValue(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, badRequest("%s must be a number, got %q", name, raw)
	}
	if v < 0 {
		return 0, badRequest("%s must not be negative", name)
	}
	return v, nil
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, badRequest("failed to parse form: %v", err))
		return
	}

	params := filter.DefaultParams()
	for _, field := range []struct {
		name string
		dst  *float64
	}{
		{"brightness", &params.Brightness},
		{"contrast", &params.Contrast},
		{"color", &params.Color},
		{"sharpness", &params.Sharpness},
	} {
		v, err := parseFactor(r, field.name, *field.dst)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		*field.dst = v
	}

	source := gallery.ParseSource(r.PostFormValue("source"))
	imageID := strings.TrimSpace(r.PostFormValue("image_id"))
	path, err := s.cfg.Gallery.Resolve(source, imageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	img, err := filter.Apply(s.cfg.Gallery.FsFor(source), path, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	encoded, err := filter.EncodeBase64PNG(img)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.render(w, r, http.StatusOK, ui.TransformOutput(imageID, imageURL(source, imageID), encoded))
}

func (s *Server) histogram(r *http.Request, imageID string) (*filter.Histogram, gallery.Source, error) {
	source := gallery.ParseSource(r.URL.Query().Get("source"))
	path, err := s.cfg.Gallery.Resolve(source, imageID)
	if err != nil {
		return nil, source, err
	}

	img, err := filter.Open(s.cfg.Gallery.FsFor(source), path)
	if err != nil {
		return nil, source, err
	}

	return filter.ComputeHistogram(img), source, nil
}

func (s *Server) handleHistogramPage(w http.ResponseWriter, r *http.Request) {
	imageID := strings.TrimSpace(r.URL.Query().Get("image_id"))
	if imageID == "" {
		images, err := s.cfg.Gallery.Presets()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, ui.HistogramSelect(images))
		return
	}

	h, source, err := s.histogram(r, imageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, ui.HistogramPage(imageID, imageURL(source, imageID), histogramDataURL(source, imageID), h))
}

func (s *Server) handleHistogramData(w http.ResponseWriter, r *http.Request) {
	h, _, err := s.histogram(r, r.PathValue("image"))
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Index == nil {
		s.render(w, r, http.StatusOK, ui.UploadsPage(nil))
		return
	}

	entries, err := s.cfg.Index.Recent(r.Context(), recentUploadsLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	now := s.cfg.Clock.Now()
	uploads := make([]ui.Upload, 0, len(entries))
	for _, e := range entries {
		uploads = append(uploads, ui.Upload{
			Filename: e.Filename,
			Original: e.OriginalFilename,
			Size:     humanize.Bytes(uint64(e.Size)),
			Created:  e.CreatedAt.UTC().Format(time.RFC3339) + " (" + humanize.RelTime(e.CreatedAt, now, "ago", "from now") + ")",
			URL:      imageURL(gallery.Uploaded, e.Filename),
		})
	}

	s.render(w, r, http.StatusOK, ui.UploadsPage(uploads))
}
