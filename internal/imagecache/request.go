package imagecache

import (
	"image"
	"sync/atomic"

	"go2tv.app/castcompanion/internal/metrics"
	"go2tv.app/castcompanion/internal/uiloop"
)

const (
	requestPending int32 = iota
	requestCancelled
	requestDelivered
)

// Request is the handle for one pending Fetch. A nil *Request is valid and
// stands for a fetch that already completed synchronously.
type Request struct {
	cache *Cache
	url   string
	cb    func(image.Image)
	state atomic.Int32
}

func newRequest(c *Cache, url string, cb func(image.Image)) *Request {
	return &Request{cache: c, url: url, cb: cb}
}

// URL returns the requested URL.
func (r *Request) URL() string {
	if r == nil {
		return ""
	}
	return r.url
}

// Pending reports whether the callback can still fire.
func (r *Request) Pending() bool {
	return r != nil && r.state.Load() == requestPending
}

// Cancel is shorthand for the owning cache's Cancel.
func (r *Request) Cancel() {
	if r == nil {
		return
	}
	r.cache.Cancel(r)
}

func (r *Request) cancel() bool {
	return r.state.CompareAndSwap(requestPending, requestCancelled)
}

// deliver hands img to the callback on exec. Whichever of deliver and cancel
// wins the state transition decides whether the callback runs.
func (r *Request) deliver(exec uiloop.Executor, img image.Image) {
	exec.Post(func() {
		if !r.state.CompareAndSwap(requestPending, requestDelivered) {
			metrics.ImageStaleDiscardsTotal.Inc()
			r.cache.log.Debug().Str("Method", "deliver").Str("URL", r.url).Err(ErrStaleRequest).Msg("dropped")
			return
		}
		r.cb(img)
	})
}
