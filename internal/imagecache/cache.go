// Package imagecache keeps decoded artwork in memory and makes sure that a
// given URL is fetched at most once at a time, no matter how many surfaces
// ask for it.
//
// Results are always handed to callbacks through the configured executor,
// except for the two synchronous cases: an empty URL and a cache hit.
package imagecache

import (
	"container/list"
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"go2tv.app/castcompanion/internal/metrics"
	"go2tv.app/castcompanion/internal/uiloop"
)

const (
	DefaultMaxEntries           = 2
	DefaultMaxBytes             = 64 << 20
	DefaultFetchTimeout         = 30 * time.Second
	DefaultMaxConcurrentFetches = 1
)

var (
	// ErrFetchFailed covers network, status, sniffing and decode failures.
	// Callers never see it; the callback receives nil instead.
	ErrFetchFailed = errors.New("image fetch failed")
	// ErrAdmissionRejected means the image was delivered but was too large to cache.
	ErrAdmissionRejected = errors.New("image too large for cache slot")
	// ErrStaleRequest means a result arrived for a request that was cancelled.
	ErrStaleRequest = errors.New("stale image request discarded")
)

// Fetcher retrieves and decodes the image behind url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (image.Image, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (image.Image, error) {
	return f(ctx, url)
}

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	MaxEntries           int
	MaxBytes             int64
	FetchTimeout         time.Duration
	MaxConcurrentFetches int64
	// Executor receives every asynchronous delivery. Defaults to uiloop.Inline.
	Executor uiloop.Executor
	Logger   zerolog.Logger
}

type entry struct {
	key  string
	img  image.Image
	size int64
}

type flight struct {
	key     string
	waiters []*Request
}

// Cache is a byte- and count-bounded LRU of decoded images with single-flight
// fetching. The entry table and the in-flight table share one lock so that
// completing a fetch, admitting its image and releasing its waiters happen
// atomically with respect to new Fetch calls.
type Cache struct {
	fetcher    Fetcher
	exec       uiloop.Executor
	log        zerolog.Logger
	maxEntries int
	maxBytes   int64
	timeout    time.Duration
	sem        *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
	bytes    int64
	inflight map[string]*flight
	closed   bool
}

// New creates a cache that loads misses through f.
func New(f Fetcher, opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if opts.Executor == nil {
		opts.Executor = uiloop.Inline{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		fetcher:    f,
		exec:       opts.Executor,
		log:        opts.Logger.With().Str("Component", "imagecache").Logger(),
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
		timeout:    opts.FetchTimeout,
		sem:        semaphore.NewWeighted(opts.MaxConcurrentFetches),
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		inflight:   make(map[string]*flight),
	}
}

// Fetch resolves url and hands the image to cb, or nil if it could not be
// loaded. An empty url or a cache hit calls cb before Fetch returns and
// yields a nil Request. Otherwise cb runs later on the executor, exactly
// once, unless the returned Request is cancelled first.
func (c *Cache) Fetch(url string, cb func(image.Image)) *Request {
	if cb == nil {
		cb = func(image.Image) {}
	}
	if url == "" {
		cb(nil)
		return nil
	}

	c.mu.Lock()
	if el, ok := c.entries[url]; ok {
		c.order.MoveToFront(el)
		img := el.Value.(*entry).img
		c.mu.Unlock()
		metrics.IncLookup("hit")
		cb(img)
		return nil
	}
	if c.closed {
		c.mu.Unlock()
		cb(nil)
		return nil
	}

	req := newRequest(c, url, cb)
	if f, ok := c.inflight[url]; ok {
		f.waiters = append(f.waiters, req)
		c.mu.Unlock()
		metrics.IncLookup("joined")
		c.log.Debug().Str("Method", "Fetch").Str("URL", url).Msg("joined in-flight fetch")
		return req
	}

	f := &flight{key: url, waiters: []*Request{req}}
	c.inflight[url] = f
	c.wg.Add(1)
	c.mu.Unlock()

	metrics.IncLookup("miss")
	c.log.Debug().Str("Method", "Fetch").Str("URL", url).Msg("starting fetch")
	go c.run(f)
	return req
}

// Rebind is what a surface calls when its artwork may have changed. prev is
// kept when it is still waiting for the same url; otherwise it is cancelled
// and a new fetch is issued.
func (c *Cache) Rebind(prev *Request, url string, cb func(image.Image)) *Request {
	if prev != nil && url != "" && prev.url == url && prev.Pending() {
		return prev
	}
	c.Cancel(prev)
	return c.Fetch(url, cb)
}

// Cancel detaches req from its fetch. The fetch itself keeps running and its
// result may still be cached, but req's callback will not be called once
// Cancel returns.
func (c *Cache) Cancel(req *Request) {
	if req == nil || !req.cancel() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.inflight[req.url]
	if !ok {
		return
	}
	for i, w := range f.waiters {
		if w == req {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			break
		}
	}
	if len(f.waiters) == 0 {
		c.log.Debug().Str("Method", "Cancel").Str("URL", req.url).Msg("no waiters left, fetch continues for the cache")
	}
}

// Get returns a cached image and marks it as recently used.
func (c *Cache) Get(url string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).img, true
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Bytes returns the accounted size of all cached images.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Close aborts running fetches and waits for them. Their pending callbacks
// receive nil. Fetch calls after Close only serve cache hits.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Cache) run(f *flight) {
	defer c.wg.Done()

	img, err := c.load(f.key)
	var size int64
	if err == nil {
		size = SizeOf(img)
	}

	c.mu.Lock()
	delete(c.inflight, f.key)
	waiters := f.waiters
	f.waiters = nil
	admitted := false
	if err == nil {
		admitted = c.putLocked(f.key, img, size)
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		metrics.IncFetch("error")
		c.log.Debug().Str("Method", "run").Str("URL", f.key).Err(err).Msg("fetch failed")
	case !admitted:
		metrics.IncFetch("ok")
		metrics.ImageCacheRejectedTotal.Inc()
		c.log.Debug().Str("Method", "run").Str("URL", f.key).Int64("Size", size).Err(ErrAdmissionRejected).Msg("not cached")
	default:
		metrics.IncFetch("ok")
	}

	for _, w := range waiters {
		w.deliver(c.exec, img)
	}
}

func (c *Cache) load(url string) (image.Image, error) {
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		return nil, errors.Wrapf(ErrFetchFailed, "%s: %v", url, err)
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	img, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(ErrFetchFailed, "%s: %v", url, err)
	}
	if img == nil {
		return nil, errors.Wrapf(ErrFetchFailed, "%s: no image", url)
	}
	return img, nil
}

// putLocked admits img unless it exceeds one slot's share of the byte
// budget, then evicts from the back until both bounds hold.
func (c *Cache) putLocked(key string, img image.Image, size int64) bool {
	if size > c.maxBytes/int64(c.maxEntries) {
		return false
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		c.bytes += size - e.size
		e.img, e.size = img, size
		c.order.MoveToFront(el)
	} else {
		c.entries[key] = c.order.PushFront(&entry{key: key, img: img, size: size})
		c.bytes += size
	}

	for c.order.Len() > c.maxEntries || c.bytes > c.maxBytes {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		e := c.order.Remove(oldest).(*entry)
		delete(c.entries, e.key)
		c.bytes -= e.size
		metrics.ImageCacheEvictionsTotal.Inc()
		c.log.Debug().Str("Method", "put").Str("URL", e.key).Msg("evicted")
	}
	return true
}

// SizeOf is the memory accounted for a decoded image: four bytes per pixel.
func SizeOf(img image.Image) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
