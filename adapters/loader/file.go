// Package loader provides built-in URL loader backends.
package loader

import (
	"os"
	"strconv"
	"strings"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// File serves local filesystem paths and file:// URLs.  It resolves
// synchronously on the calling goroutine, so it registers with
// RequiresScheduling false and never occupies a fetch slot.
type File struct{}

// NewFile returns a File loader.
func NewFile() *File { return &File{} }

// Descriptor returns the registration record for this loader: direct path,
// results cacheable, default priority.
func (f *File) Descriptor() core.URLLoaderDescriptor {
	d := core.NewURLLoaderDescriptor(f)
	d.RequiresScheduling = false
	return d
}

func (f *File) CanHandle(url string) bool {
	if strings.HasPrefix(url, "file://") {
		return true
	}
	return !strings.Contains(url, ":")
}

func (f *File) Load(req core.Request, _ core.Geometry, onProgress core.ProgressFunc, onComplete core.FetchCallback) core.CancelFunc {
	path := strings.TrimPrefix(req.URL, "file://")

	info, err := os.Stat(path)
	if err != nil {
		onComplete(apperrors.Wrap(apperrors.CategoryFetch, "file.stat", err), core.FetchResult{})
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		onComplete(apperrors.Wrap(apperrors.CategoryFetch, "file.read", err), core.FetchResult{})
		return nil
	}
	if onProgress != nil {
		onProgress(int64(len(data)), int64(len(data)))
	}
	onComplete(nil, core.FetchResult{
		Data: data,
		// Modification time stands in for a response validator so cache
		// entries go stale when the file changes.
		Validator: strconv.FormatInt(info.ModTime().UnixNano(), 10),
	})
	return nil
}
