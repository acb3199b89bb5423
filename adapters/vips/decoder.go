// Package vips provides a libvips-powered data decoder backend.  It is an
// explicit decoder backend: libvips owns its own worker pool, so decodes
// routed here bypass the built-in byte-budget machinery.
package vips

import (
	"bytes"
	"image"
	"image/png"
	"runtime"
	"sync/atomic"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// Config configures the libvips backend.
type Config struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
	// Priority of this backend in the registry.  Defaults to 10 so it
	// outranks any default-priority decoder when both match.
	Priority float64
}

// Decoder is a core.DataDecoderBackend backed by libvips.
// Safe for concurrent use across goroutines.
type Decoder struct {
	cfg Config
}

// NewDecoder initialises libvips and returns a ready Decoder.
// Call Shutdown() when the process exits.
func NewDecoder(cfg Config) *Decoder {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.Priority == 0 {
		cfg.Priority = 10
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Decoder{cfg: cfg}
}

// Shutdown releases all libvips resources.  Call once at process exit.
func (d *Decoder) Shutdown() {
	govips.Shutdown()
}

// Descriptor returns the registration record for this backend.
func (d *Decoder) Descriptor() core.DataDecoderDescriptor {
	return core.DataDecoderDescriptor{Decoder: d, Priority: d.cfg.Priority}
}

func (d *Decoder) CanDecode(data []byte) bool {
	return govips.DetermineImageType(data) != govips.ImageTypeUnknown
}

// Decode runs the libvips thumbnail pipeline on its own goroutine and
// converts the result to an image.Image.  The returned cancel func suppresses
// the completion callback; libvips work already in flight runs to completion.
func (d *Decoder) Decode(data []byte, geom core.Geometry, onComplete func(err error, img image.Image)) core.CancelFunc {
	var cancelled atomic.Bool

	go func() {
		img, err := d.decode(data, geom)
		if cancelled.Load() {
			return
		}
		onComplete(err, img)
	}()
	return func() { cancelled.Store(true) }
}

func (d *Decoder) decode(data []byte, geom core.Geometry) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "vips.decode", apperrors.ErrNoData)
	}

	var (
		ref *govips.ImageRef
		err error
	)
	w, h := geom.TargetPixels()
	if w > 0 && h > 0 {
		crop := govips.InterestingNone
		if geom.Mode == core.ResizeModeFill && geom.Clipped {
			crop = govips.InterestingCentre
		}
		ref, err = govips.NewThumbnailFromBuffer(data, w, h, crop)
	} else {
		ref, err = govips.NewImageFromBuffer(data)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()

	// Round-trip through PNG to hand back a portable image.Image; the
	// pixel buffer otherwise stays behind the cgo boundary.
	buf, _, err := ref.ExportPng(govips.NewPngExportParams())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.export", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.export", err)
	}
	return img, nil
}
