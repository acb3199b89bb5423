package core

import (
	"image"
)

// ResizeMode controls how a decoded image is mapped onto the target size.
type ResizeMode int

const (
	// ResizeModeFit scales to fit within the target, preserving aspect ratio.
	ResizeModeFit ResizeMode = iota
	// ResizeModeFill scales to cover the target, preserving aspect ratio.
	// With the clipped option the overflow is centre-cropped away.
	ResizeModeFill
	// ResizeModeStretch scales to the exact target, ignoring aspect ratio.
	ResizeModeStretch
)

func (m ResizeMode) String() string {
	switch m {
	case ResizeModeFit:
		return "fit"
	case ResizeModeFill:
		return "fill"
	case ResizeModeStretch:
		return "stretch"
	}
	return "unknown"
}

// Size is a target size in pixels.  A zero Size means "original dimensions".
type Size struct {
	Width  int
	Height int
}

// IsZero reports whether no target size was requested.
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

// Request identifies one load.  TraceID is attached during normalization and
// threads through log lines for the request's whole lifetime.
type Request struct {
	URL     string
	TraceID string
}

// Geometry bundles the target parameters of one load.
type Geometry struct {
	Size    Size
	Scale   float64
	Clipped bool
	Mode    ResizeMode
}

// EstimatedByteCost is the decoded-byte reservation for a decode at this
// geometry: width·scale × height·scale × 4 (RGBA).  When no target size is
// known the payload length is used as a stand-in, scaled by the same factor.
func (g Geometry) EstimatedByteCost(payloadLen int) int64 {
	scale := g.Scale
	if scale <= 0 {
		scale = 1
	}
	w := int64(float64(g.Size.Width) * scale)
	h := int64(float64(g.Size.Height) * scale)
	if cost := w * h * 4; cost > 0 {
		return cost
	}
	return int64(payloadLen) * 4
}

// TargetPixels returns the scaled pixel target, or (0, 0) when the original
// dimensions are wanted.
func (g Geometry) TargetPixels() (int, int) {
	scale := g.Scale
	if scale <= 0 {
		scale = 1
	}
	return int(float64(g.Size.Width) * scale), int(float64(g.Size.Height) * scale)
}

// FetchResult is the uniform triplet a fetch stage resolves to: raw bytes or
// an already-decoded image, plus a validator identifying the response version
// (ETag, Last-Modified or Date) for cache keying.
type FetchResult struct {
	Data      []byte
	Image     image.Image
	Validator string
}

// CacheKey identifies one decoded image in the cache.
type CacheKey struct {
	URL       string
	Size      Size
	Scale     float64
	Mode      ResizeMode
	Validator string
}

// Callback signatures.  Completion callbacks fire at most once per request
// and never after cancellation was observed.
type (
	// ProgressFunc receives download progress; total is -1 when unknown.
	ProgressFunc func(received, total int64)
	// LoadCallback delivers the final result of a load.
	LoadCallback func(err error, img image.Image)
	// SizeCallback delivers the result of a size-only request.
	SizeCallback func(err error, size Size)
	// FetchCallback delivers the outcome of the fetch stage.
	FetchCallback func(err error, res FetchResult)
	// CancelFunc aborts in-flight work.  May be nil when there is nothing
	// to abort.
	CancelFunc func()
)
