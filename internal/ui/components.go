package ui

import (
	"context"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

// Prediction is one ranked classification score for display.
type Prediction struct {
	Label string
	Score float64
}

// Upload is a row of the recent uploads table.
type Upload struct {
	Filename string
	Original string
	Size     string
	Created  string
	URL      string
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		// Head
		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<title>%s</title>", html.EscapeString(title))
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<body><main class=\"container\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<nav><ul><li><strong><a href=\"/\">Image Lab</a></strong></li></ul><ul>"+
			"<li><a href=\"/classifications\">Classify</a></li>"+
			"<li><a href=\"/classify_upload\">Upload</a></li>"+
			"<li><a href=\"/transform\">Transform</a></li>"+
			"<li><a href=\"/histogram\">Histogram</a></li>"+
			"<li><a href=\"/uploads\">Recent uploads</a></li></ul></nav>")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// Home renders the landing page.
func Home() templ.Component {
	return Layout("Image Lab", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Image Lab</h1>"+
			"<p>Classify images with pre-trained networks, adjust them and inspect their colour histograms.</p></header>"+
			"<ul>"+
			"<li><a href=\"/classifications\">Classify a preset image</a></li>"+
			"<li><a href=\"/classify_upload\">Upload and classify your own image</a></li>"+
			"<li><a href=\"/transform\">Transform an image</a></li>"+
			"<li><a href=\"/histogram\">Show an image histogram</a></li>"+
			"</ul></section>")
		return err
	}))
}

func writeSelect(w io.Writer, name string, label string, options []string) error {
	_, err := fmt.Fprintf(w, "<label for=\"%[1]s\">%[2]s</label><select id=\"%[1]s\" name=\"%[1]s\" required>", name, html.EscapeString(label))
	if err != nil {
		return err
	}
	for _, opt := range options {
		_, err = fmt.Fprintf(w, "<option value=\"%[1]s\">%[1]s</option>", html.EscapeString(opt))
		if err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "</select>")
	return err
}

// ClassificationSelect renders the form for classifying a preset image.
func ClassificationSelect(images []string, models []string) templ.Component {
	return Layout("Image Lab - Classify", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Classify a preset image</h1></header>")
		if err != nil {
			return err
		}

		if len(images) == 0 {
			_, err = io.WriteString(w, "<p>No preset images found.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<form method=\"post\" action=\"/classifications\">")
		if err != nil {
			return err
		}
		if err := writeSelect(w, "image_id", "Image", images); err != nil {
			return err
		}
		if err := writeSelect(w, "model_id", "Model", models); err != nil {
			return err
		}
		_, err = io.WriteString(w, "<button type=\"submit\">Classify</button></form></section>")
		return err
	}))
}

// ClassifyUpload renders the upload and classify form.
func ClassifyUpload(models []string, maxUpload string) templ.Component {
	return Layout("Image Lab - Upload", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Upload and classify</h1>")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<p>JPEG, PNG, GIF or BMP, up to %s. Uploads are deleted after an hour.</p></header>", html.EscapeString(maxUpload))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<form method=\"post\" action=\"/classify_upload\" enctype=\"multipart/form-data\">"+
			"<label for=\"image_file\">Image</label>"+
			"<input type=\"file\" id=\"image_file\" name=\"image_file\" accept=\".jpg,.jpeg,.png,.gif,.bmp\" required>")
		if err != nil {
			return err
		}
		if err := writeSelect(w, "model_id", "Model", models); err != nil {
			return err
		}
		_, err = io.WriteString(w, "<button type=\"submit\">Upload and classify</button></form></section>")
		return err
	}))
}

// ClassificationOutput renders the ranked scores for an image. scoresJSON is
// passed back to /download_results.
func ClassificationOutput(imageID string, imageURL string, model string, predictions []Prediction, scoresJSON string) templ.Component {
	return Layout("Image Lab - Results", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<section><header><h1>%s</h1><p>Model: <code>%s</code></p></header>",
			html.EscapeString(imageID), html.EscapeString(model))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<img src=\"%s\" alt=\"%s\" style=\"max-width: 320px\">",
			html.EscapeString(imageURL), html.EscapeString(imageID))
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Label</th><th>Score</th></tr></thead><tbody>")
		if err != nil {
			return err
		}
		for _, p := range predictions {
			_, err = fmt.Fprintf(w, "<tr><td>%s</td><td>%.4f</td></tr>", html.EscapeString(p.Label), p.Score)
			if err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, "</tbody></table>")
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(w, "<form method=\"get\" action=\"/download_results\"><input type=\"hidden\" name=\"scores\" value=\"%s\">"+
			"<button type=\"submit\">Download results</button></form></section>", html.EscapeString(scoresJSON))
		return err
	}))
}

// TransformSelect renders the transform form.
func TransformSelect(images []string) templ.Component {
	return Layout("Image Lab - Transform", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Transform an image</h1>"+
			"<p>A factor of 1 leaves the image unchanged.</p></header>")
		if err != nil {
			return err
		}

		if len(images) == 0 {
			_, err = io.WriteString(w, "<p>No preset images found.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<form method=\"post\" action=\"/transform\"><input type=\"hidden\" name=\"source\" value=\"preset\">")
		if err != nil {
			return err
		}
		if err := writeSelect(w, "image_id", "Image", images); err != nil {
			return err
		}
		for _, name := range []string{"brightness", "contrast", "color", "sharpness"} {
			_, err = fmt.Fprintf(w, "<label for=\"%[1]s\">%[1]s</label>"+
				"<input type=\"number\" id=\"%[1]s\" name=\"%[1]s\" value=\"1.0\" min=\"0\" max=\"5\" step=\"0.1\">", name)
			if err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, "<button type=\"submit\">Transform</button></form></section>")
		return err
	}))
}

// TransformOutput shows the original next to the transformed image, which
// is embedded as a base64 PNG.
func TransformOutput(imageID string, imageURL string, transformedB64 string) templ.Component {
	return Layout("Image Lab - Transformed", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<section><header><h1>%s</h1></header><div class=\"grid\">", html.EscapeString(imageID))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<figure><img src=\"%s\" alt=\"original\"><figcaption>Original</figcaption></figure>", html.EscapeString(imageURL))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<figure><img src=\"data:image/png;base64,%s\" alt=\"transformed\"><figcaption>Transformed</figcaption></figure>", transformedB64)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</div><p><a href=\"/transform\">&larr; Transform another image</a></p></section>")
		return err
	}))
}

// HistogramSelect renders the image picker for the histogram page.
func HistogramSelect(images []string) templ.Component {
	return Layout("Image Lab - Histogram", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Colour histogram</h1></header>")
		if err != nil {
			return err
		}

		if len(images) == 0 {
			_, err = io.WriteString(w, "<p>No preset images found.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<form method=\"get\" action=\"/histogram\">")
		if err != nil {
			return err
		}
		if err := writeSelect(w, "image_id", "Image", images); err != nil {
			return err
		}
		_, err = io.WriteString(w, "<button type=\"submit\">Show histogram</button></form></section>")
		return err
	}))
}
