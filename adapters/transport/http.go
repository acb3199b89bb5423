// Package transport provides the HTTP network collaborator.
package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// HTTP is the default core.Transport.  It bounds concurrent connections per
// host with a weighted semaphore and reports download progress chunk by
// chunk.  Safe for concurrent use.
type HTTP struct {
	client    *http.Client
	perHost   int64
	maxBytes  int64
	chunkSize int
	logger    core.Logger

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// New returns an HTTP transport configured from cfg.
func New(cfg config.Config, logger core.Logger) *HTTP {
	if logger == nil {
		logger = core.NopLogger{}
	}
	perHost := cfg.PerHostConnections
	if perHost < 1 {
		perHost = 1
	}
	return &HTTP{
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		perHost:   perHost,
		maxBytes:  cfg.MaxImageBytes,
		chunkSize: cfg.ChunkSize,
		logger:    logger,
		sems:      make(map[string]*semaphore.Weighted),
	}
}

// CanHandle reports whether req targets an http or https URL.
func (t *HTTP) CanHandle(req core.Request) bool {
	return strings.HasPrefix(req.URL, "http://") || strings.HasPrefix(req.URL, "https://")
}

// Submit starts the download on its own goroutine and delivers the
// (response, body, error) triplet through onComplete exactly once.
func (t *HTTP) Submit(req core.Request, onProgress core.ProgressFunc, onComplete func(resp *core.Response, body []byte, err error)) core.TransportTask {
	ctx, cancel := context.WithCancel(context.Background())
	task := &httpTask{cancel: cancel}
	task.state.Store(int32(core.TaskStatePending))

	go func() {
		defer cancel()
		task.state.Store(int32(core.TaskStateInProgress))
		defer task.state.Store(int32(core.TaskStateFinished))

		resp, body, err := t.fetch(ctx, req, onProgress)
		onComplete(resp, body, err)
	}()
	return task
}

func (t *HTTP) fetch(ctx context.Context, req core.Request, onProgress core.ProgressFunc) (*core.Response, []byte, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryTransport, "http.parse", err)
	}

	sem := t.hostSem(u.Host)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryTransport, "http.acquire", cancelErr(ctx, err))
	}
	defer sem.Release(1)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryTransport, "http.request", err)
	}
	if req.TraceID != "" {
		httpReq.Header.Set("X-Request-Id", req.TraceID)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryTransport, "http.do", cancelErr(ctx, err))
	}
	defer httpResp.Body.Close()

	resp := &core.Response{
		StatusCode: httpResp.StatusCode,
		Validator:  responseValidator(httpResp),
	}
	if httpResp.StatusCode != http.StatusOK {
		// Body is irrelevant; the orchestrator surfaces the status code.
		return resp, nil, nil
	}

	var body io.Reader = httpResp.Body
	if t.maxBytes > 0 {
		body = &utils.LimitedReader{R: body, Max: t.maxBytes}
	}
	buf, err := utils.DrainReader(ctx, body, t.chunkSize, httpResp.ContentLength, utils.ProgressFunc(onProgress))
	if err != nil {
		t.logger.Debug("http.body_read_failed", "url", req.URL, "error", err.Error())
		return resp, nil, apperrors.Wrap(apperrors.CategoryTransport, "http.body", cancelErr(ctx, err))
	}
	data := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)
	return resp, data, nil
}

func (t *HTTP) hostSem(host string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	sem, ok := t.sems[host]
	if !ok {
		sem = semaphore.NewWeighted(t.perHost)
		t.sems[host] = sem
		t.logger.Debug("http.host_semaphore_created", "host", host, "limit", t.perHost)
	}
	return sem
}

// cancelErr substitutes ErrCancelled when the failure was caused by the
// request's own cancellation rather than the network.
func cancelErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperrors.ErrCancelled
	}
	return err
}

// responseValidator picks the strongest version identifier the server sent.
func responseValidator(resp *http.Response) string {
	for _, h := range []string{"ETag", "Last-Modified", "Date"} {
		if v := resp.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

type httpTask struct {
	state  atomic.Int32
	cancel context.CancelFunc
}

func (t *httpTask) State() core.TaskState { return core.TaskState(t.state.Load()) }
func (t *httpTask) Cancel()               { t.cancel() }
