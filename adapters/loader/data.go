package loader

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// DataURI serves RFC 2397 data: URLs.  Like File, it resolves synchronously
// and skips the fetch scheduler; decoded payloads are not worth caching, so
// the descriptor turns cache population off.
type DataURI struct{}

// NewDataURI returns a DataURI loader.
func NewDataURI() *DataURI { return &DataURI{} }

// Descriptor returns the registration record for this loader.
func (d *DataURI) Descriptor() core.URLLoaderDescriptor {
	desc := core.NewURLLoaderDescriptor(d)
	desc.RequiresScheduling = false
	desc.CacheResult = false
	return desc
}

func (d *DataURI) CanHandle(url string) bool {
	return strings.HasPrefix(url, "data:")
}

func (d *DataURI) Load(req core.Request, _ core.Geometry, _ core.ProgressFunc, onComplete core.FetchCallback) core.CancelFunc {
	data, err := decodeDataURI(req.URL)
	if err != nil {
		onComplete(apperrors.Wrap(apperrors.CategoryFetch, "data_uri.decode", err), core.FetchResult{})
		return nil
	}
	onComplete(nil, core.FetchResult{Data: data})
	return nil
}

func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, errors.New("malformed data uri")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	return []byte(payload), nil
}
