// Package decoder turns uploaded image bytes into an opaque RGB pixel buffer.
package decoder

import (
	"bytes"
	"image"
	"image/color"
	"io"

	// Formats beyond imaging's defaults (jpeg, png, gif, bmp, tiff).
	_ "golang.org/x/image/webp"

	apperrors "github.com/Brownie44l1/food-ai-api/internal/errors"
	"github.com/disintegration/imaging"
)

// DefaultMaxPixels bounds width*height of an accepted image (about 40 MP).
const DefaultMaxPixels = 40_000_000

// Decoder decodes and normalizes uploaded images. The zero value uses DefaultMaxPixels.
type Decoder struct {
	MaxPixels int
}

// Image is a decoded upload: three color channels, alpha forced opaque.
type Image struct {
	*image.NRGBA
	Format string
}

// Decode reads r fully and decodes it. Undecodable, empty or oversized input
// fails with an ErrCodeInvalidRequest structured error.
func (d *Decoder) Decode(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to read uploaded file", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "uploaded file is empty")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest,
			"invalid image format, supported: JPEG, PNG, GIF, BMP, TIFF, WebP", err)
	}

	maxPixels := d.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if !withinPixelBudget(cfg.Width, cfg.Height, maxPixels) {
		return nil, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "image dimensions out of range",
			map[string]any{
				"width":     cfg.Width,
				"height":    cfg.Height,
				"maxPixels": maxPixels,
			})
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to decode image", err)
	}

	return &Image{NRGBA: ToRGB(img), Format: format}, nil
}

// withinPixelBudget reports whether a width x height image has at most
// maxPixels pixels. The product is taken in int64 so it cannot wrap on 32-bit.
func withinPixelBudget(width, height, maxPixels int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	return int64(width)*int64(height) <= int64(maxPixels)
}

// ToRGB flattens img onto a white background so every pixel is opaque.
func ToRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(dst, img, image.Pt(0, 0), 1.0)
}
