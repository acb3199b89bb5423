// Package decoder provides the built-in decode-and-resize transform used by
// the budgeted decode route, plus the metadata probe for size-only requests.
package decoder

import (
	"bytes"
	"image"

	// Codecs for image.DecodeConfig and imaging.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// Decode decodes data and applies the target geometry.  A zero geometry
// returns the image at its original dimensions.
func Decode(data []byte, geom core.Geometry) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "decode", apperrors.ErrNoData)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return Transform(img, geom), nil
}

// Transform maps img onto the geometry's target.  The zero geometry is the
// identity; a target with one zero axis derives it from the source aspect
// ratio.
func Transform(img image.Image, geom core.Geometry) image.Image {
	w, h := geom.TargetPixels()
	if w <= 0 && h <= 0 {
		return img
	}
	if w <= 0 || h <= 0 {
		b := img.Bounds()
		w, h = utils.ScaleDimensions(b.Dx(), b.Dy(), max(w, 0), max(h, 0))
	}

	switch geom.Mode {
	case core.ResizeModeStretch:
		return imaging.Resize(img, w, h, imaging.Lanczos)
	case core.ResizeModeFill:
		if geom.Clipped {
			return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
		}
		cw, ch := coverDimensions(img.Bounds().Dx(), img.Bounds().Dy(), w, h)
		return imaging.Resize(img, cw, ch, imaging.Lanczos)
	default: // ResizeModeFit
		return imaging.Fit(img, w, h, imaging.Lanczos)
	}
}

// coverDimensions returns the smallest size covering (targetW, targetH) while
// preserving the source aspect ratio.
func coverDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if srcW == 0 || srcH == 0 {
		return targetW, targetH
	}
	rw := float64(targetW) / float64(srcW)
	rh := float64(targetH) / float64(srcH)
	if rw > rh {
		return targetW, int(float64(srcH) * rw)
	}
	return int(float64(srcW) * rh), targetH
}

// ProbeSize reads pixel dimensions from an encoded payload without decoding
// the bitmap.
func ProbeSize(data []byte) (core.Size, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return core.Size{}, err
	}
	return core.Size{Width: cfg.Width, Height: cfg.Height}, nil
}
