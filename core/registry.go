package core

import (
	"sort"
	"sync"
)

// URLLoaderDescriptor is an immutable registration record for a URL loader
// backend.  Optional capabilities are resolved to explicit fields once, at
// registration time.
type URLLoaderDescriptor struct {
	Loader   URLLoaderBackend
	Priority float64
	// RequiresScheduling gates the loader behind the fetch scheduler.
	// Loaders that resolve locally (files, data URIs) set this false and
	// run inline on the calling goroutine.
	RequiresScheduling bool
	// CacheResult controls decoded-image cache population for results
	// produced through this loader.
	CacheResult bool
}

// NewURLLoaderDescriptor returns a descriptor with the defaults applied:
// priority 0, scheduling required, results cacheable.
func NewURLLoaderDescriptor(l URLLoaderBackend) URLLoaderDescriptor {
	return URLLoaderDescriptor{Loader: l, RequiresScheduling: true, CacheResult: true}
}

// DataDecoderDescriptor is an immutable registration record for a data
// decoder backend.
type DataDecoderDescriptor struct {
	Decoder  DataDecoderBackend
	Priority float64
}

// Registry resolves, for a given URL or payload, the single best-priority
// backend capable of handling it.  Resolution is pure: the same input against
// the same registrations always yields the same backend.
type Registry struct {
	mu       sync.RWMutex
	loaders  []URLLoaderDescriptor
	decoders []DataDecoderDescriptor

	// Priority-sorted views, built lazily on first resolve and invalidated
	// by registration.
	sortedLoaders  []URLLoaderDescriptor
	sortedDecoders []DataDecoderDescriptor

	// When true, resolution scans past the first match to surface
	// ambiguous equal-priority registrations as warnings.  Selection is
	// unaffected: the first match in sorted order always wins.
	diagnose bool
	logger   Logger
}

// NewRegistry returns an empty Registry.  diagnose enables the ambiguity
// scan; pass false in release deployments.
func NewRegistry(diagnose bool, logger Logger) *Registry {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Registry{diagnose: diagnose, logger: logger}
}

// RegisterURLLoader adds a loader backend.  Registration order is the
// tie-break for equal priorities.
func (r *Registry) RegisterURLLoader(d URLLoaderDescriptor) {
	r.mu.Lock()
	r.loaders = append(r.loaders, d)
	r.sortedLoaders = nil
	r.mu.Unlock()
}

// RegisterDataDecoder adds a decoder backend.
func (r *Registry) RegisterDataDecoder(d DataDecoderDescriptor) {
	r.mu.Lock()
	r.decoders = append(r.decoders, d)
	r.sortedDecoders = nil
	r.mu.Unlock()
}

// ResolveURLLoader returns the highest-priority loader whose predicate
// matches url.  A miss is not an error; callers fall back to the transport.
func (r *Registry) ResolveURLLoader(url string) (URLLoaderDescriptor, bool) {
	loaders := r.loaderSeq()

	var (
		found URLLoaderDescriptor
		prev  URLLoaderDescriptor
		ok    bool
	)
	for _, d := range loaders {
		if !d.Loader.CanHandle(url) {
			continue
		}
		if !ok {
			found, ok = d, true
			if !r.diagnose {
				return found, true
			}
		} else if d.Priority == prev.Priority {
			// Matches appear in descending priority order, so any
			// equal-priority pair of matches is adjacent.  Selection is
			// unaffected: the first match in sorted order wins.
			r.logger.Warn("registry.ambiguous_url_loaders",
				"url", url,
				"priority", d.Priority,
			)
		}
		prev = d
	}
	return found, ok
}

// ResolveDataDecoder returns the highest-priority decoder whose predicate
// matches the payload.  A miss routes the payload to the built-in decoder.
func (r *Registry) ResolveDataDecoder(data []byte) (DataDecoderDescriptor, bool) {
	decoders := r.decoderSeq()

	var (
		found DataDecoderDescriptor
		prev  DataDecoderDescriptor
		ok    bool
	)
	for _, d := range decoders {
		if !d.Decoder.CanDecode(data) {
			continue
		}
		if !ok {
			found, ok = d, true
			if !r.diagnose {
				return found, true
			}
		} else if d.Priority == prev.Priority {
			r.logger.Warn("registry.ambiguous_data_decoders",
				"priority", d.Priority,
				"payload_bytes", len(data),
			)
		}
		prev = d
	}
	return found, ok
}

func (r *Registry) loaderSeq() []URLLoaderDescriptor {
	r.mu.RLock()
	s := r.sortedLoaders
	r.mu.RUnlock()
	if s != nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sortedLoaders == nil {
		s = make([]URLLoaderDescriptor, len(r.loaders))
		copy(s, r.loaders)
		sort.SliceStable(s, func(i, j int) bool { return s[i].Priority > s[j].Priority })
		r.sortedLoaders = s
	}
	return r.sortedLoaders
}

func (r *Registry) decoderSeq() []DataDecoderDescriptor {
	r.mu.RLock()
	s := r.sortedDecoders
	r.mu.RUnlock()
	if s != nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sortedDecoders == nil {
		s = make([]DataDecoderDescriptor, len(r.decoders))
		copy(s, r.decoders)
		sort.SliceStable(s, func(i, j int) bool { return s[i].Priority > s[j].Priority })
		r.sortedDecoders = s
	}
	return r.sortedDecoders
}
