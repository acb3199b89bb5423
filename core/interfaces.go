package core

import (
	"image"
	"time"
)

// URLLoaderBackend fetches a URL and resolves it to bytes or a decoded image.
// Implementations live in adapters/loader/; the HTTP transport is the
// fallback when no backend matches.
type URLLoaderBackend interface {
	// CanHandle reports whether this backend serves the given URL.
	CanHandle(url string) bool
	// Load starts the fetch and returns a cancel function (may be nil for
	// synchronous backends).  onComplete must be called exactly once.
	Load(req Request, geom Geometry, onProgress ProgressFunc, onComplete FetchCallback) CancelFunc
}

// DataDecoderBackend decodes raw bytes into an image.  An explicit decoder
// backend owns its own concurrency policy and bypasses the built-in decode
// budget entirely.
type DataDecoderBackend interface {
	// CanDecode reports whether this backend handles the given payload.
	CanDecode(data []byte) bool
	// Decode starts the decode and returns a cancel function.  onComplete
	// must be called exactly once with either an error or an image.
	Decode(data []byte, geom Geometry, onComplete func(err error, img image.Image)) CancelFunc
}

// TaskState is the transport-visible state of a submitted request.
type TaskState int32

const (
	TaskStatePending TaskState = iota
	TaskStateInProgress
	TaskStateFinished
)

// Response is the transport metadata the pipeline cares about.
type Response struct {
	StatusCode int
	// Validator identifies the response version for cache keying:
	// ETag, Last-Modified or Date, whichever the server provided first.
	Validator string
}

// TransportTask is a handle on one in-flight transport request.
type TransportTask interface {
	State() TaskState
	Cancel()
}

// Transport is the network collaborator.  It owns connection management and
// retry policy; the pipeline only submits requests and consumes the
// (response, body, error) triplet.
type Transport interface {
	CanHandle(req Request) bool
	Submit(req Request, onProgress ProgressFunc, onComplete func(resp *Response, body []byte, err error)) TransportTask
}

// Cache is the decoded-image cache collaborator.  Storage and eviction policy
// live behind this interface; the pipeline only gets and puts.
type Cache interface {
	Get(key CacheKey) (image.Image, bool)
	Put(key CacheKey, img image.Image)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordStageTime(stage string, d time.Duration)
	RecordFetchBytes(n int64)
	RecordDecodeBytes(n int64)
	RecordError(stage string, category string)
}

// DecodeFunc is the built-in decode-and-resize transform, injected so core
// stays free of codec imports.  It runs on the decode worker pool.
type DecodeFunc func(data []byte, geom Geometry) (image.Image, error)

// ProbeSizeFunc reads pixel dimensions from an encoded payload without
// materializing a bitmap.
type ProbeSizeFunc func(data []byte) (Size, error)
