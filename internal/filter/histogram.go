package filter

import (
	"image"

	"github.com/disintegration/imaging"
)

// Histogram counts pixel values per channel. Brightness accumulates all
// three colour channels, so it holds three counts per pixel.
type Histogram struct {
	Red        [256]int `json:"red"`
	Green      [256]int `json:"green"`
	Blue       [256]int `json:"blue"`
	Brightness [256]int `json:"brightness"`
}

// Max returns the largest single-channel bin, used to scale plots.
func (h *Histogram) Max() int {
	m := 0
	for i := range 256 {
		m = max(m, h.Red[i], h.Green[i], h.Blue[i])
	}
	return m
}

// ComputeHistogram builds the colour histogram of img.
func ComputeHistogram(img image.Image) *Histogram {
	src := imaging.Clone(img)
	h := &Histogram{}
	for i := 0; i < len(src.Pix); i += 4 {
		r, g, b := src.Pix[i], src.Pix[i+1], src.Pix[i+2]
		h.Red[r]++
		h.Green[g]++
		h.Blue[b]++
		h.Brightness[r]++
		h.Brightness[g]++
		h.Brightness[b]++
	}
	return h
}
