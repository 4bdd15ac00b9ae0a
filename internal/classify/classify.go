package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

var (
	// ErrClassification wraps any failure of the inference service.
	ErrClassification = errors.New("classification failed")

	// ErrUnknownModel is returned for model ids not in Models.
	ErrUnknownModel = errors.New("unknown model")
)

// Models lists the pre-trained networks that can be requested.
var Models = []string{
	"resnet18",
	"alexnet",
	"vgg16",
	"inception_v3",
}

// IsKnownModel reports whether id is one of Models.
func IsKnownModel(id string) bool {
	return slices.Contains(Models, id)
}

// Scores maps class labels to confidence scores.
type Scores map[string]float64

// Score is one label/score pair.
type Score struct {
	Label string
	Value float64
}

// Ranked returns the scores ordered from most to least confident. Ties are
// broken by label.
func (s Scores) Ranked() []Score {
	ranked := make([]Score, 0, len(s))
	for label, value := range s {
		ranked = append(ranked, Score{Label: label, Value: value})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value > ranked[j].Value
		}
		return ranked[i].Label < ranked[j].Label
	})
	return ranked
}

// Classifier labels the image stored at imagePath using the named model.
type Classifier interface {
	Classify(ctx context.Context, modelID string, imagePath string) (Scores, error)
}

// HTTPClassifier talks to a TorchServe compatible inference API:
//
//	POST {baseURL}/predictions/{model}
//
// with the raw image as body, answered by a JSON object of label to score.
type HTTPClassifier struct {
	baseURL *url.URL
	client  *http.Client
	fs      afero.Fs
}

type Option func(*HTTPClassifier)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClassifier) {
		c.client = client
	}
}

// WithFs sets the filesystem images are read from. Defaults to the OS
// filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(c *HTTPClassifier) {
		c.fs = fsys
	}
}

// NewHTTPClassifier returns a classifier for the inference service at
// baseURL.
func NewHTTPClassifier(baseURL string, opts ...Option) (*HTTPClassifier, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse classifier url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("classifier url %q must be http or https", baseURL)
	}

	c := &HTTPClassifier{
		baseURL: u,
		client:  &http.Client{Timeout: 60 * time.Second},
		fs:      afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify sends the image at imagePath to the inference service.
func (c *HTTPClassifier) Classify(ctx context.Context, modelID string, imagePath string) (Scores, error) {
	if !IsKnownModel(modelID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}

	data, err := afero.ReadFile(c.fs, imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %w", ErrClassification, err)
	}
	contentType := mimetype.Detect(data).String()

	endpoint := c.baseURL.JoinPath("predictions", modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrClassification, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: model %s returned %s: %s",
			ErrClassification, modelID, resp.Status, strings.TrimSpace(string(snippet)))
	}

	var scores Scores
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrClassification, err)
	}

	return scores, nil
}
