package core

import (
	"sync"
	"sync/atomic"
)

// CancelToken is a single-use, thread-safe, idempotent cancel signal shared
// by every stage of one logical request.  Once set, no further completion
// callback for that request fires and every stage releases whatever it holds.
type CancelToken struct {
	cancelled atomic.Bool
}

// Cancel sets the token.  It reports whether this call was the one that set
// it; repeat calls are safe no-ops.
func (t *CancelToken) Cancel() bool {
	return t.cancelled.CompareAndSwap(false, true)
}

// Cancelled reports whether the token has been set.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// Handle is the caller-facing cancel handle for one load.  It couples the
// shared token with the cancel function of whichever stage currently owns the
// request, and guarantees the completion callback fires at most once.
type Handle struct {
	token     *CancelToken
	delivered atomic.Bool

	mu       sync.Mutex
	onCancel CancelFunc
}

// NewHandle returns a Handle with a fresh token.
func NewHandle() *Handle {
	return &Handle{token: &CancelToken{}}
}

// Cancel requests cancellation.  Safe to call from any goroutine, at any
// pipeline stage, any number of times; cancelling a finished request is a
// no-op.
func (h *Handle) Cancel() {
	if !h.token.Cancel() {
		return
	}
	h.mu.Lock()
	f := h.onCancel
	h.onCancel = nil
	h.mu.Unlock()
	if f != nil {
		f()
	}
}

// Cancelled reports whether the request was cancelled.
func (h *Handle) Cancelled() bool { return h.token.Cancelled() }

// Token returns the shared cancellation token.
func (h *Handle) Token() *CancelToken { return h.token }

// setCancelFunc hands stage-level cancellation to the handle.  When the token
// is already set, f is invoked immediately so the stage does not outlive the
// request.
func (h *Handle) setCancelFunc(f CancelFunc) {
	if f == nil {
		return
	}
	h.mu.Lock()
	if h.token.Cancelled() {
		h.mu.Unlock()
		f()
		return
	}
	h.onCancel = f
	h.mu.Unlock()
}

// deliver invokes cb unless the request was cancelled or a completion has
// already fired.  It reports whether the callback ran.
func (h *Handle) deliver(fn func()) bool {
	if h.token.Cancelled() {
		return false
	}
	if !h.delivered.CompareAndSwap(false, true) {
		return false
	}
	fn()
	return true
}
