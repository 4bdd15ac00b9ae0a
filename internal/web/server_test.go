package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/juju/clock/testclock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"imagelab/internal/classify"
	"imagelab/internal/gallery"
	"imagelab/internal/index"
	"imagelab/internal/upload"
	"imagelab/internal/web"
)

const presetImage = "n01440764_tench.JPEG"

type classifyCall struct {
	Model string
	Path  string
}

type fakeClassifier struct {
	mu    sync.Mutex
	calls []classifyCall
	err   error
}

func (f *fakeClassifier) Classify(_ context.Context, model string, path string) (classify.Scores, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, classifyCall{Model: model, Path: path})
	if f.err != nil {
		return nil, f.err
	}
	return classify.Scores{"tench": 0.9, "goldfish": 0.1}, nil
}

func (f *fakeClassifier) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeClassifier) Calls() []classifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]classifyCall(nil), f.calls...)
}

type fakeMirror struct {
	mu   sync.Mutex
	puts []string
}

func (m *fakeMirror) Put(_ context.Context, file upload.StoredFile, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, file.Filename+" "+contentType)
	return nil
}

func (m *fakeMirror) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}

type TestEnv struct {
	URL        string
	UploadDir  string
	PresetDir  string
	Classifier *fakeClassifier
	Mirror     *fakeMirror
	Index      *index.Index
}

// NewTestServer wires a Server to temporary directories, a fake classifier
// and a fake mirror, and returns an httptest.Server wrapping its handler.
func NewTestServer(t *testing.T, opts ...func(*web.Config)) *TestEnv {
	t.Helper()

	dir := t.TempDir()
	env := &TestEnv{
		UploadDir:  filepath.Join(dir, "user_images"),
		PresetDir:  filepath.Join(dir, "imagenet_subset"),
		Classifier: &fakeClassifier{},
		Mirror:     &fakeMirror{},
	}

	require.NoError(t, os.MkdirAll(env.PresetDir, 0o755))
	preset := imaging.New(8, 8, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	require.NoError(t, imaging.Save(preset, filepath.Join(env.PresetDir, presetImage)), "saving preset")

	fsys := afero.NewOsFs()
	store, err := upload.NewStore(fsys, env.UploadDir)
	require.NoError(t, err, "NewStore error")

	idx, err := index.Open(t.Context(), filepath.Join(dir, "index.sqlite"))
	require.NoError(t, err, "index.Open error")
	t.Cleanup(func() { _ = idx.Close() })
	env.Index = idx

	clk := testclock.NewClock(time.Unix(1000, 0))
	cfg := web.Config{
		Uploader:       upload.NewUploader(store, clk, true),
		Gallery:        gallery.New(fsys, env.PresetDir, store),
		Classifier:     env.Classifier,
		Index:          idx,
		Mirror:         env.Mirror,
		MaxUploadBytes: 1 << 20,
		Clock:          clk,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := web.NewServer(cfg)
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	env.URL = httpSrv.URL

	return env
}

func DoGet(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err, "creating GET request")
	resp, err := http.DefaultClient.Do(req)
	require.NoErrorf(t, err, "GET %s error", url)
	return resp
}

func DoPostForm(t *testing.T, url string, form url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, strings.NewReader(form.Encode()))
	require.NoError(t, err, "creating POST request")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	require.NoErrorf(t, err, "POST %s error", url)
	return resp
}

// DoUpload posts a multipart form with one file part and the given fields.
func DoUpload(t *testing.T, url string, filename string, contentType string, body []byte, fields map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image_file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err, "creating file part")
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, &buf)
	require.NoError(t, err, "creating upload request")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoErrorf(t, err, "POST %s error", url)
	return resp
}

func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "reading body")
	return string(body)
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(4, 4, color.NRGBA{B: 255, A: 255}), imaging.PNG))
	return buf.Bytes()
}

func TestInfoListsModelsAndPresets(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	resp := DoGet(t, env.URL+"/info")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var info web.InfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, classify.Models, info.Models)
	require.Equal(t, []string{presetImage}, info.Images)
}

func TestPagesRender(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	for _, path := range []string{"/", "/classifications", "/classify_upload", "/transform", "/histogram", "/uploads"} {
		resp := DoGet(t, env.URL+path)
		body := ReadBody(t, resp)
		resp.Body.Close()

		require.Equalf(t, http.StatusOK, resp.StatusCode, "GET %s status", path)
		require.Containsf(t, resp.Header.Get("Content-Type"), "text/html", "GET %s content type", path)
		require.NotEmptyf(t, resp.Header.Get(web.RequestIDHeader), "GET %s request id", path)
		require.Containsf(t, body, "<!DOCTYPE html>", "GET %s body", path)
	}
}

func TestClassifyPreset(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	resp := DoPostForm(t, env.URL+"/classifications", url.Values{"image_id": {presetImage}, "model_id": {"resnet18"}})
	defer resp.Body.Close()
	body := ReadBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Contains(t, body, "<td>tench</td><td>0.9000</td>")
	require.Contains(t, body, "/static/imagenet_subset/"+presetImage)

	calls := env.Classifier.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, classifyCall{Model: "resnet18", Path: filepath.Join(env.PresetDir, presetImage)}, calls[0])
}

func TestClassifyPresetErrorStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		form   url.Values
		err    error
		status int
	}{
		{name: "unknown model", form: url.Values{"image_id": {presetImage}, "model_id": {"gpt"}}, status: http.StatusBadRequest},
		{name: "missing image", form: url.Values{"image_id": {"nope.JPEG"}, "model_id": {"vgg16"}}, status: http.StatusNotFound},
		{name: "traversal", form: url.Values{"image_id": {"../index.sqlite"}, "model_id": {"vgg16"}}, status: http.StatusNotFound},
		{
			name:   "classifier down",
			form:   url.Values{"image_id": {presetImage}, "model_id": {"alexnet"}},
			err:    fmt.Errorf("%w: connection refused", classify.ErrClassification),
			status: http.StatusBadGateway,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := NewTestServer(t)
			env.Classifier.FailWith(tc.err)

			resp := DoPostForm(t, env.URL+"/classifications", tc.form)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestClassifyUploadStoresIndexesAndMirrors(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)
	png := encodePNG(t)

	resp := DoUpload(t, env.URL+"/classify_upload", "cat.png", "image/png", png, map[string]string{"model_id": "inception_v3"})
	defer resp.Body.Close()
	body := ReadBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Contains(t, body, "/static/user_images/cat_1000.png")

	stored := filepath.Join(env.UploadDir, "cat_1000.png")
	got, err := os.ReadFile(stored)
	require.NoError(t, err, "upload should be stored under its derived name")
	require.Equal(t, png, got)

	require.Equal(t, []classifyCall{{Model: "inception_v3", Path: stored}}, env.Classifier.Calls())
	require.Equal(t, []string{"cat_1000.png image/png"}, env.Mirror.Puts())

	entry, err := env.Index.Get(t.Context(), "cat_1000.png")
	require.NoError(t, err)
	require.Equal(t, "cat.png", entry.OriginalFilename)
	require.Equal(t, int64(len(png)), entry.Size)

	static := DoGet(t, env.URL+"/static/user_images/cat_1000.png")
	defer static.Body.Close()
	require.Equal(t, http.StatusOK, static.StatusCode)
	require.Equal(t, string(png), ReadBody(t, static))

	uploads := DoGet(t, env.URL+"/uploads")
	defer uploads.Body.Close()
	require.Contains(t, ReadBody(t, uploads), "cat_1000.png")
}

func TestClassifyUploadRejectsNonImages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		filename    string
		contentType string
		body        []byte
	}{
		{name: "text file", filename: "notes.txt", contentType: "text/plain", body: []byte("hello")},
		{name: "wrong declared type", filename: "cat.png", contentType: "application/pdf", body: nil},
		{name: "disguised text", filename: "cat.png", contentType: "image/png", body: []byte("not really an image")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := NewTestServer(t)
			body := tc.body
			if body == nil {
				body = encodePNG(t)
			}

			resp := DoUpload(t, env.URL+"/classify_upload", tc.filename, tc.contentType, body, map[string]string{"model_id": "resnet18"})
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			entries, err := os.ReadDir(env.UploadDir)
			require.NoError(t, err)
			require.Empty(t, entries, "rejected uploads must not be stored")
			require.Empty(t, env.Classifier.Calls())
		})
	}
}

func TestClassifyUploadUnknownModelStoresNothing(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	resp := DoUpload(t, env.URL+"/classify_upload", "cat.png", "image/png", encodePNG(t), map[string]string{"model_id": "bogus"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	entries, err := os.ReadDir(env.UploadDir)
	require.NoError(t, err)
	require.Empty(t, entries, "uploads for an unknown model must not be stored")
	require.Empty(t, env.Mirror.Puts(), "nothing should be mirrored")

	_, err = env.Index.Get(t.Context(), "cat_1000.png")
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestClassifyUploadDottedFilename(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	resp := DoUpload(t, env.URL+"/classify_upload", ".cat.png", "image/png", encodePNG(t), map[string]string{"model_id": "resnet18"})
	defer resp.Body.Close()
	body := ReadBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.FileExists(t, filepath.Join(env.UploadDir, "cat_1000.png"))

	bare := DoUpload(t, env.URL+"/classify_upload", ".png", "image/png", encodePNG(t), map[string]string{"model_id": "resnet18"})
	defer bare.Body.Close()
	require.Equal(t, http.StatusBadRequest, bare.StatusCode)
}

func TestClassifyUploadTooLarge(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t, func(cfg *web.Config) { cfg.MaxUploadBytes = 512 })

	resp := DoUpload(t, env.URL+"/classify_upload", "big.png", "image/png", bytes.Repeat([]byte{0x89}, 4096), map[string]string{"model_id": "resnet18"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestDownloadResults(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	resp := DoGet(t, env.URL+"/download_results?scores="+url.QueryEscape(`{"tench":0.9}`))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "attachment; filename=results.json", resp.Header.Get("Content-Disposition"))

	var scores map[string]float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scores))
	require.Equal(t, map[string]float64{"tench": 0.9}, scores)

	bad := DoGet(t, env.URL+"/download_results?scores=nope")
	defer bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestTransform(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	resp := DoPostForm(t, env.URL+"/transform", url.Values{
		"image_id":   {presetImage},
		"brightness": {"0.5"},
		"sharpness":  {"2"},
	})
	defer resp.Body.Close()
	body := ReadBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Contains(t, body, "data:image/png;base64,")

	for _, tc := range []struct {
		form   url.Values
		status int
	}{
		{form: url.Values{"image_id": {presetImage}, "contrast": {"-1"}}, status: http.StatusBadRequest},
		{form: url.Values{"image_id": {presetImage}, "color": {"lots"}}, status: http.StatusBadRequest},
		{form: url.Values{"image_id": {"missing.JPEG"}}, status: http.StatusNotFound},
		{form: url.Values{"image_id": {"cat_1.png"}, "source": {"uploaded"}}, status: http.StatusNotFound},
	} {
		resp := DoPostForm(t, env.URL+"/transform", tc.form)
		resp.Body.Close()
		require.Equalf(t, tc.status, resp.StatusCode, "form %v", tc.form)
	}
}

func TestHistogramData(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	resp := DoGet(t, env.URL+"/histogram/"+presetImage)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h struct {
		Red        []int `json:"red"`
		Brightness []int `json:"brightness"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	require.Len(t, h.Red, 256)

	sum := func(bins []int) int {
		total := 0
		for _, v := range bins {
			total += v
		}
		return total
	}
	require.Equal(t, 64, sum(h.Red), "one count per pixel")
	require.Equal(t, 3*64, sum(h.Brightness), "three counts per pixel")

	page := DoGet(t, env.URL+"/histogram?image_id="+presetImage)
	defer page.Body.Close()
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, ReadBody(t, page), "<svg id=\"histogram\"")

	missing := DoGet(t, env.URL+"/histogram/missing.JPEG")
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestHistogramPageLinksUploadedData(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	up := DoUpload(t, env.URL+"/classify_upload", "cat.png", "image/png", encodePNG(t), map[string]string{"model_id": "resnet18"})
	up.Body.Close()
	require.Equal(t, http.StatusOK, up.StatusCode)

	page := DoGet(t, env.URL+"/histogram?image_id=cat_1000.png&source=uploaded")
	defer page.Body.Close()
	body := ReadBody(t, page)
	require.Equal(t, http.StatusOK, page.StatusCode, body)

	link := "/histogram/cat_1000.png?source=uploaded"
	require.Contains(t, body, "href=\""+link+"\"")

	data := DoGet(t, env.URL+link)
	defer data.Body.Close()
	require.Equal(t, http.StatusOK, data.StatusCode, "linked data resolves the upload")
}

func TestStaticDirectoriesAreNotListed(t *testing.T) {
	t.Parallel()

	env := NewTestServer(t)

	resp := DoGet(t, env.URL+"/static/user_images/")
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	preset := DoGet(t, env.URL+"/static/imagenet_subset/"+presetImage)
	defer preset.Body.Close()
	require.Equal(t, http.StatusOK, preset.StatusCode)
}

func TestNewServerRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := web.NewServer(web.Config{})
	require.Error(t, err)
}

func TestRecovererTurnsPanicsInto500(t *testing.T) {
	t.Parallel()

	handler := web.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
