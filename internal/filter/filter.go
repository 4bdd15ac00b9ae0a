package filter

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"

	"imagelab/internal/upload"
)

// ErrFilter wraps failures while decoding, adjusting or encoding an image.
var ErrFilter = errors.New("filter failed")

// Params are enhancement factors. A factor of 1 leaves the image unchanged,
// 0 yields the degenerate image (black, flat grey, greyscale or blurred)
// and values above 1 push away from it.
type Params struct {
	Brightness float64
	Contrast   float64
	Color      float64
	Sharpness  float64
}

// DefaultParams returns the identity transform.
func DefaultParams() Params {
	return Params{Brightness: 1, Contrast: 1, Color: 1, Sharpness: 1}
}

// Validate rejects negative factors.
func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"brightness": p.Brightness,
		"contrast":   p.Contrast,
		"color":      p.Color,
		"sharpness":  p.Sharpness,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrFilter, name)
		}
	}
	return nil
}

// Open checks that path exists on fsys and has an accepted image extension,
// then decodes it.
func Open(fsys afero.Fs, path string) (image.Image, error) {
	name := filepath.Base(path)

	info, err := fsys.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", upload.ErrMissingImage, name)
	}
	if !upload.HasImageExtension(name) {
		return nil, fmt.Errorf("%w: %s (supported: %v)", upload.ErrUnsupportedFormat, name, upload.AllowedExtensions)
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", upload.ErrMissingImage, name, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrFilter, name, err)
	}
	return img, nil
}

// Apply opens the image at path on fsys and applies brightness, contrast,
// color and sharpness in that order.
func Apply(fsys afero.Fs, path string, p Params) (*image.NRGBA, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	img, err := Open(fsys, path)
	if err != nil {
		return nil, err
	}

	return Enhance(img, p), nil
}

// Enhance applies p to img.
func Enhance(img image.Image, p Params) *image.NRGBA {
	out := imaging.Clone(img)

	if p.Brightness != 1 {
		f := p.Brightness
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{
				R: clamp(float64(c.R) * f),
				G: clamp(float64(c.G) * f),
				B: clamp(float64(c.B) * f),
				A: c.A,
			}
		})
	}

	if p.Contrast != 1 {
		f := p.Contrast
		mean := meanLuminance(out)
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{
				R: clamp(mean + (float64(c.R)-mean)*f),
				G: clamp(mean + (float64(c.G)-mean)*f),
				B: clamp(mean + (float64(c.B)-mean)*f),
				A: c.A,
			}
		})
	}

	if p.Color != 1 {
		f := p.Color
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			l := luminance(c)
			return color.NRGBA{
				R: clamp(l + (float64(c.R)-l)*f),
				G: clamp(l + (float64(c.G)-l)*f),
				B: clamp(l + (float64(c.B)-l)*f),
				A: c.A,
			}
		})
	}

	if p.Sharpness != 1 {
		out = blend(imaging.Blur(out, 1), out, p.Sharpness)
	}

	return out
}

// blend returns degenerate + (img - degenerate) * f per channel. Both images
// must have the same bounds.
func blend(degenerate *image.NRGBA, img *image.NRGBA, f float64) *image.NRGBA {
	out := image.NewNRGBA(img.Rect)
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			d := float64(degenerate.Pix[i+c])
			out.Pix[i+c] = clamp(d + (float64(img.Pix[i+c])-d)*f)
		}
		out.Pix[i+3] = img.Pix[i+3]
	}
	return out
}

func luminance(c color.NRGBA) float64 {
	return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
}

func meanLuminance(img *image.NRGBA) float64 {
	n := len(img.Pix) / 4
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(img.Pix); i += 4 {
		sum += luminance(color.NRGBA{R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2]})
	}
	return sum / float64(n)
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// EncodeBase64PNG encodes img as PNG and returns it base64 encoded, ready for
// a data: URI.
func EncodeBase64PNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("%w: encode png: %w", ErrFilter, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
