package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryFetch     Category = "fetch"
	CategoryDecode    Category = "decode"
	CategoryTransport Category = "transport"
	CategoryCache     Category = "cache"
	CategoryInput     Category = "input"
	CategoryConfig    Category = "config"
)

// LoadError is the structured error type used throughout the module.
// Errors are only ever delivered through completion callbacks; nothing in the
// pipeline returns errors across stage boundaries.
type LoadError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// New creates a LoadError.
func New(category Category, op string, err error) *LoadError {
	return &LoadError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Category == cat
	}
	return false
}

// HTTPStatusError reports a non-200 response from the transport, carrying the
// status code for the caller.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.Code)
}

// StatusCode extracts the HTTP status code from err, if it carries one.
func StatusCode(err error) (int, bool) {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// DecodeError reports that a decoder produced no image.  PayloadSize is kept
// for diagnostics; the payload itself is not.
type DecodeError struct {
	PayloadSize int
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed for %d-byte payload: %v", e.PayloadSize, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Sentinel errors for common failure modes.
var (
	// ErrNoData reports a zero-length payload handed to the decode stage.
	ErrNoData = errors.New("empty payload")
	// ErrResponseMetadata reports that the transport completed without a
	// response object.
	ErrResponseMetadata = errors.New("transport returned no response metadata")
	// ErrUnknownDownload reports that the transport returned neither an
	// error nor usable data.
	ErrUnknownDownload = errors.New("unknown download error")
	// ErrCancelled reports work abandoned after its request was cancelled.
	ErrCancelled = errors.New("request cancelled")
	// ErrImageTooLarge reports a payload exceeding the configured limit.
	ErrImageTooLarge = errors.New("image exceeds configured size limit")
	// ErrUnsupportedFormat reports a payload no registered decoder and no
	// built-in codec recognizes.
	ErrUnsupportedFormat = errors.New("unrecognized image format")
)
