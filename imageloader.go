// Package imageloader fetches images by URL, decodes and resizes them, and
// returns the result through completion callbacks, while bounding concurrent
// network fetches and the memory footprint of concurrent decodes.
package imageloader

import (
	"github.com/Skryldev/image-loader/adapters/cache"
	"github.com/Skryldev/image-loader/adapters/decoder"
	"github.com/Skryldev/image-loader/adapters/loader"
	"github.com/Skryldev/image-loader/adapters/transport"
	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/hooks"
)

// Re-export resize modes for convenience.
const (
	Fit     = core.ResizeModeFit
	Fill    = core.ResizeModeFill
	Stretch = core.ResizeModeStretch
)

// Size is a target size in pixels.
type Size = core.Size

// Mode selects how a decoded image is mapped onto the target size.
type Mode = core.ResizeMode

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Loader is the primary entry point.
type Loader struct {
	inner *core.Loader
	sched *core.Scheduler
	reg   *core.Registry
}

// New creates a fully wired Loader with the built-in file and data-URI
// loaders registered and an slog logger at cfg.LogLevel.  Call Stop() when
// done.
func New(cfg config.Config) (*Loader, error) {
	return NewWith(cfg, hooks.NewLeveledLogger(cfg.LogLevel), nil)
}

// NewWith is New with an explicit logger and metrics collector; either may be
// nil.
func NewWith(cfg config.Config, logger core.Logger, metrics core.MetricsCollector) (*Loader, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = core.NopLogger{}
	}

	reg := core.NewRegistry(cfg.DiagnoseBackendConflicts, logger)
	reg.RegisterURLLoader(loader.NewFile().Descriptor())
	reg.RegisterURLLoader(loader.NewDataURI().Descriptor())

	sched := core.NewScheduler(cfg, logger, metrics)

	var imageCache core.Cache
	if cfg.CacheCapacity > 0 {
		imageCache = cache.NewMemory(cfg.CacheCapacity)
	}

	inner := core.NewLoader(
		cfg,
		reg,
		sched,
		transport.New(cfg, logger),
		imageCache,
		decoder.Decode,
		decoder.ProbeSize,
		logger,
		metrics,
	)
	return &Loader{inner: inner, sched: sched, reg: reg}, nil
}

// Load fetches, decodes and resizes the image at url.  The result arrives
// through onComplete exactly once, unless the returned handle is cancelled
// first.  onProgress may be nil.
func (l *Loader) Load(url string, size Size, scale float64, clipped bool, mode core.ResizeMode, onProgress core.ProgressFunc, onComplete core.LoadCallback) *core.Handle {
	geom := core.Geometry{Size: size, Scale: scale, Clipped: clipped, Mode: mode}
	return l.inner.Load(core.Request{URL: url}, geom, onProgress, onComplete)
}

// GetImageSize retrieves only the pixel dimensions of the image at url,
// without materializing a bitmap.
func (l *Loader) GetImageSize(url string, onComplete core.SizeCallback) *core.Handle {
	return l.inner.GetImageSize(core.Request{URL: url}, onComplete)
}

// RegisterURLLoader adds a custom URL loader backend.
func (l *Loader) RegisterURLLoader(d core.URLLoaderDescriptor) { l.reg.RegisterURLLoader(d) }

// RegisterDataDecoder adds a custom data decoder backend.
func (l *Loader) RegisterDataDecoder(d core.DataDecoderDescriptor) { l.reg.RegisterDataDecoder(d) }

// Snapshot returns the scheduler's current admission counters.
func (l *Loader) Snapshot() core.Snapshot { return l.sched.Snapshot() }

// Stop shuts down the scheduling loop.  In-flight completions are dropped.
func (l *Loader) Stop() { l.sched.Stop() }
