package core

import (
	"image"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/image-loader/config"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// Loader is the pipeline orchestrator.  It composes backend resolution,
// fetch, decode and cache lookup/population into one end-to-end request and
// owns the cancellation handle lifecycle.  Safe for concurrent use.
type Loader struct {
	cfg       config.Config
	registry  *Registry
	sched     *Scheduler
	transport Transport
	cache     Cache
	decode    DecodeFunc
	probeSize ProbeSizeFunc
	logger    Logger
	metrics   MetricsCollector
}

// NewLoader wires an orchestrator.  transport, cache and metrics may be nil;
// decode and probeSize must not be.
func NewLoader(
	cfg config.Config,
	registry *Registry,
	sched *Scheduler,
	transport Transport,
	cache Cache,
	decode DecodeFunc,
	probeSize ProbeSizeFunc,
	logger Logger,
	metrics MetricsCollector,
) *Loader {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Loader{
		cfg:       cfg,
		registry:  registry,
		sched:     sched,
		transport: transport,
		cache:     cache,
		decode:    decode,
		probeSize: probeSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Registry returns the backend registry so callers can register loaders and
// decoders after construction.
func (l *Loader) Registry() *Registry { return l.registry }

// Load fetches, decodes and resizes the image identified by req.  The result
// is delivered through onComplete, exactly once, unless the returned handle
// is cancelled first.  onProgress may be nil.
func (l *Loader) Load(req Request, geom Geometry, onProgress ProgressFunc, onComplete LoadCallback) *Handle {
	h := NewHandle()
	req = l.normalize(req)
	start := time.Now()

	desc, hasLoader := l.registry.ResolveURLLoader(req.URL)
	cacheable := !hasLoader || desc.CacheResult

	complete := func(err error, res FetchResult) {
		l.afterFetch(h, req, geom, cacheable, err, res, onComplete, start)
	}
	l.startFetch(h, req, geom, desc, hasLoader, onProgress, complete)
	return h
}

// GetImageSize retrieves only the pixel dimensions of the image.  It reuses
// the fetch path but reads dimensions from encoded metadata; no bitmap is
// ever materialized and the decode scheduler is never involved.
func (l *Loader) GetImageSize(req Request, onComplete SizeCallback) *Handle {
	h := NewHandle()
	req = l.normalize(req)

	desc, hasLoader := l.registry.ResolveURLLoader(req.URL)
	complete := func(err error, res FetchResult) {
		if h.Cancelled() {
			return
		}
		switch {
		case err != nil:
			h.deliver(func() { onComplete(err, Size{}) })
		case res.Image != nil:
			b := res.Image.Bounds()
			h.deliver(func() { onComplete(nil, Size{Width: b.Dx(), Height: b.Dy()}) })
		case len(res.Data) == 0:
			h.deliver(func() {
				onComplete(apperrors.Wrap(apperrors.CategoryInput, "image_size", apperrors.ErrNoData), Size{})
			})
		default:
			sz, perr := l.probeSize(res.Data)
			if perr != nil {
				perr = apperrors.Wrap(apperrors.CategoryDecode, "image_size",
					&apperrors.DecodeError{PayloadSize: len(res.Data), Err: perr})
			}
			h.deliver(func() { onComplete(perr, sz) })
		}
	}
	l.startFetch(h, req, Geometry{}, desc, hasLoader, nil, complete)
	return h
}

// startFetch routes the request either inline (direct-capable loader) or
// through the fetch scheduler, falling back to the network transport when no
// loader backend matched.
func (l *Loader) startFetch(h *Handle, req Request, geom Geometry, desc URLLoaderDescriptor, hasLoader bool, onProgress ProgressFunc, complete FetchCallback) {
	if hasLoader && !desc.RequiresScheduling {
		// Direct path: runs synchronously on the calling goroutine.
		h.setCancelFunc(desc.Loader.Load(req, geom, onProgress, complete))
		return
	}

	task := l.sched.SubmitFetch(func(done func()) CancelFunc {
		if h.Cancelled() {
			done()
			return nil
		}
		fc := func(err error, res FetchResult) {
			done()
			complete(err, res)
		}
		if hasLoader {
			return desc.Loader.Load(req, geom, onProgress, fc)
		}
		return l.transportFetch(req, onProgress, fc)
	})
	h.setCancelFunc(task.Cancel)
}

// transportFetch submits to the network transport and folds its
// (response, body, error) triplet into the uniform fetch result.
func (l *Loader) transportFetch(req Request, onProgress ProgressFunc, complete FetchCallback) CancelFunc {
	t := l.transport.Submit(req, onProgress, func(resp *Response, body []byte, err error) {
		switch {
		case err != nil:
			complete(apperrors.Wrap(apperrors.CategoryTransport, "fetch", err), FetchResult{})
		case resp == nil:
			complete(apperrors.Wrap(apperrors.CategoryTransport, "fetch", apperrors.ErrResponseMetadata), FetchResult{})
		case resp.StatusCode != http.StatusOK:
			complete(&apperrors.HTTPStatusError{Code: resp.StatusCode}, FetchResult{})
		case len(body) == 0:
			complete(apperrors.Wrap(apperrors.CategoryTransport, "fetch", apperrors.ErrUnknownDownload), FetchResult{})
		default:
			complete(nil, FetchResult{Data: body, Validator: resp.Validator})
		}
	})
	return t.Cancel
}

// afterFetch handles the fetch outcome: direct image results skip decode and
// cache entirely; raw bytes go through cache lookup and then the decode
// stage.  Decode-class work never runs on the goroutine that delivered the
// fetch result.
func (l *Loader) afterFetch(h *Handle, req Request, geom Geometry, cacheable bool, err error, res FetchResult, onComplete LoadCallback, start time.Time) {
	if l.metrics != nil {
		l.metrics.RecordStageTime("fetch", time.Since(start))
	}
	if h.Cancelled() {
		return
	}
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordError("fetch", string(apperrors.CategoryTransport))
		}
		l.logger.Debug("load.fetch_failed", "url", req.URL, "trace_id", req.TraceID, "error", err.Error())
		h.deliver(func() { onComplete(err, nil) })
		return
	}
	if res.Image != nil {
		// Already decoded by the loader backend.
		h.deliver(func() { onComplete(nil, res.Image) })
		return
	}
	if len(res.Data) == 0 {
		h.deliver(func() {
			onComplete(apperrors.Wrap(apperrors.CategoryInput, "load", apperrors.ErrNoData), nil)
		})
		return
	}
	if l.metrics != nil {
		l.metrics.RecordFetchBytes(int64(len(res.Data)))
	}

	key := CacheKey{URL: req.URL, Size: geom.Size, Scale: geom.Scale, Mode: geom.Mode, Validator: res.Validator}
	if cacheable && l.cache != nil {
		if img, ok := l.cache.Get(key); ok {
			l.logger.Debug("load.cache_hit", "url", req.URL, "trace_id", req.TraceID)
			h.deliver(func() { onComplete(nil, img) })
			return
		}
	}
	l.decodePayload(h, req, geom, key, cacheable, res.Data, onComplete)
}

func (l *Loader) decodePayload(h *Handle, req Request, geom Geometry, key CacheKey, cacheable bool, data []byte, onComplete LoadCallback) {
	finish := func(err error, img image.Image) {
		if h.Cancelled() {
			return
		}
		if err != nil {
			if l.metrics != nil {
				l.metrics.RecordError("decode", string(apperrors.CategoryDecode))
			}
			h.deliver(func() { onComplete(err, nil) })
			return
		}
		if cacheable && l.cache != nil {
			l.cache.Put(key, img)
		}
		h.deliver(func() { onComplete(nil, img) })
	}

	// An explicit decoder backend owns its own concurrency policy and
	// bypasses the byte-budget machinery.
	if dd, ok := l.registry.ResolveDataDecoder(data); ok {
		cancel := dd.Decoder.Decode(data, geom, func(err error, img image.Image) {
			if err != nil {
				err = apperrors.Wrap(apperrors.CategoryDecode, "decode",
					&apperrors.DecodeError{PayloadSize: len(data), Err: err})
			}
			finish(err, img)
		})
		h.setCancelFunc(cancel)
		return
	}

	// Payloads the built-in codecs cannot possibly decode are rejected here,
	// before any decode budget is reserved for them.
	if !utils.IsImageData(data) {
		l.logger.Debug("load.unrecognized_payload",
			"url", req.URL, "trace_id", req.TraceID, "format", utils.DetectFormat(data))
		finish(apperrors.Wrap(apperrors.CategoryDecode, "decode",
			&apperrors.DecodeError{PayloadSize: len(data), Err: apperrors.ErrUnsupportedFormat}), nil)
		return
	}

	cost := geom.EstimatedByteCost(len(data))
	cancel := l.sched.SubmitDecode(cost, func(release func()) {
		defer release()
		if h.Cancelled() {
			return
		}
		start := time.Now()
		img, err := l.decode(data, geom)
		if l.metrics != nil {
			l.metrics.RecordStageTime("decode", time.Since(start))
		}
		if err != nil {
			err = apperrors.Wrap(apperrors.CategoryDecode, "decode",
				&apperrors.DecodeError{PayloadSize: len(data), Err: err})
		}
		finish(err, img)
	})
	h.setCancelFunc(cancel)
}

// normalize attaches a tracking marker and patches extensionless local paths
// with the assumed image extension.
func (l *Loader) normalize(req Request) Request {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if isLocalPath(req.URL) {
		p := strings.TrimPrefix(req.URL, "file://")
		if filepath.Ext(p) == "" {
			ext := l.cfg.AssumedExtension
			if ext == "" {
				ext = ".png"
			}
			req.URL += ext
		}
	}
	return req
}

func isLocalPath(u string) bool {
	return strings.HasPrefix(u, "file://") || !strings.Contains(u, ":")
}
