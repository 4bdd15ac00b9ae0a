package web

import (
	"net/http"
	"strings"

	"github.com/spf13/afero"
)

// Handler returns an http.Handler serving every page and endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /info", s.handleInfo)

	mux.HandleFunc("GET /classifications", s.handleClassificationSelect)
	mux.HandleFunc("POST /classifications", s.handleClassifyPreset)
	mux.HandleFunc("GET /classify_upload", s.handleClassifyUploadForm)
	mux.HandleFunc("POST /classify_upload", s.handleClassifyUpload)
	mux.HandleFunc("GET /download_results", s.handleDownloadResults)

	mux.HandleFunc("GET /transform", s.handleTransformSelect)
	mux.HandleFunc("POST /transform", s.handleTransform)

	mux.HandleFunc("GET /histogram", s.handleHistogramPage)
	mux.HandleFunc("GET /histogram/{image}", s.handleHistogramData)

	mux.HandleFunc("GET /uploads", s.handleUploads)

	store := s.cfg.Uploader.Store()
	mux.Handle("GET "+UploadsURLPrefix, staticFiles(UploadsURLPrefix, store.Fs(), store.Dir()))
	mux.Handle("GET "+PresetsURLPrefix, staticFiles(PresetsURLPrefix, s.cfg.Gallery.Fs(), s.cfg.Gallery.PresetDir()))

	// Add middleware
	handler := SlashFix(mux)
	handler = LogRequest(handler)
	handler = RequestID(handler)
	handler = Recoverer(handler)
	return handler
}

// staticFiles serves the files of dir under prefix without directory
// listings.
func staticFiles(prefix string, fsys afero.Fs, dir string) http.Handler {
	files := http.StripPrefix(prefix, http.FileServer(afero.NewHttpFs(fsys).Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
