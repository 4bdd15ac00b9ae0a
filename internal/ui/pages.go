package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"

	"imagelab/internal/filter"
)

const (
	plotWidth  = 512
	plotHeight = 200
)

// polyline renders bins as an SVG polyline scaled so that peak reaches the
// top of the plot.
func polyline(bins *[256]int, peak int, stroke string) string {
	var b strings.Builder
	for i, v := range bins {
		y := float64(plotHeight)
		if peak > 0 {
			y -= float64(v) * float64(plotHeight) / float64(peak)
		}
		fmt.Fprintf(&b, "%d,%.1f ", i*plotWidth/256, max(y, 0))
	}
	return fmt.Sprintf("<polyline fill=\"none\" stroke=\"%s\" stroke-width=\"1\" points=\"%s\"/>", stroke, strings.TrimSpace(b.String()))
}

// HistogramPage plots the colour channels of one image and links to the raw
// bins at dataURL. The brightness series sums all three channels and is
// scaled against its own peak.
func HistogramPage(imageID string, imageURL string, dataURL string, h *filter.Histogram) templ.Component {
	return Layout("Image Lab - Histogram of "+imageID, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<section><header><h1>%s</h1></header>", html.EscapeString(imageID))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<img src=\"%s\" alt=\"%s\" style=\"max-width: 320px\">",
			html.EscapeString(imageURL), html.EscapeString(imageID))
		if err != nil {
			return err
		}

		brightnessPeak := 0
		for _, v := range h.Brightness {
			brightnessPeak = max(brightnessPeak, v)
		}

		_, err = fmt.Fprintf(w, "<svg id=\"histogram\" viewBox=\"0 0 %d %d\" width=\"%d\" height=\"%d\" style=\"background: #fff\">",
			plotWidth, plotHeight, plotWidth, plotHeight)
		if err != nil {
			return err
		}
		for _, line := range []string{
			polyline(&h.Brightness, brightnessPeak, "#999"),
			polyline(&h.Red, h.Max(), "#d33"),
			polyline(&h.Green, h.Max(), "#3a3"),
			polyline(&h.Blue, h.Max(), "#33d"),
		} {
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, "</svg><p><a href=\"%s\">Raw data (JSON)</a></p></section>", html.EscapeString(dataURL))
		return err
	}))
}

// UploadsPage lists recently stored uploads.
func UploadsPage(uploads []Upload) templ.Component {
	return Layout("Image Lab - Recent uploads", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Recent uploads</h1></header>")
		if err != nil {
			return err
		}

		if len(uploads) == 0 {
			_, err = io.WriteString(w, "<p>No uploads yet.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Name</th><th>Original</th><th>Size</th><th>Uploaded</th></tr></thead><tbody>")
		if err != nil {
			return err
		}
		for _, u := range uploads {
			_, err = fmt.Fprintf(w, "<tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%s</td><td>%s</td></tr>",
				html.EscapeString(u.URL), html.EscapeString(u.Filename), html.EscapeString(u.Original),
				html.EscapeString(u.Size), html.EscapeString(u.Created))
			if err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, "</tbody></table></section>")
		return err
	}))
}

// ErrorPage renders a failed request.
func ErrorPage(status int, message string) templ.Component {
	return Layout("Image Lab - "+http.StatusText(status), templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<section><header><h1>%d %s</h1></header><p class=\"error-message\">%s</p>"+
			"<p><a href=\"/\">&larr; Back</a></p></section>",
			status, html.EscapeString(http.StatusText(status)), html.EscapeString(message))
		return err
	}))
}
