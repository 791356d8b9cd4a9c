package imagecache

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/h2non/filetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"
)

const (
	artHTTPClientTimeout         = 20 * time.Second
	artHTTPDialTimeout           = 5 * time.Second
	artHTTPKeepAlive             = 30 * time.Second
	artHTTPTLSHandshakeTimeout   = 5 * time.Second
	artHTTPResponseHeaderTimeout = 10 * time.Second
	artHTTPIdleConnTimeout       = 90 * time.Second

	// DefaultMaxBodyBytes bounds how much of a response is read before decoding.
	DefaultMaxBodyBytes = 32 << 20
)

var artHTTPTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   artHTTPDialTimeout,
		KeepAlive: artHTTPKeepAlive,
	}).DialContext,
	TLSHandshakeTimeout:   artHTTPTLSHandshakeTimeout,
	ResponseHeaderTimeout: artHTTPResponseHeaderTimeout,
	IdleConnTimeout:       artHTTPIdleConnTimeout,
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   artHTTPClientTimeout,
		Transport: artHTTPTransport,
	}
}

func newRetryableHTTPClient(retryMax int) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient = newHTTPClient()

	return retryClient.StandardClient()
}

// HTTPFetcher downloads artwork over HTTP(S) and decodes it.
type HTTPFetcher struct {
	Client       *http.Client
	MaxBodyBytes int64
}

// NewHTTPFetcher returns a fetcher retrying transient failures up to retryMax times.
func NewHTTPFetcher(retryMax int) *HTTPFetcher {
	return &HTTPFetcher{
		Client:       newRetryableHTTPClient(retryMax),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build artwork request")
	}

	client := f.Client
	if client == nil {
		client = newHTTPClient()
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "get artwork")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("get artwork: unexpected status %d", resp.StatusCode)
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, errors.Wrap(err, "read artwork")
	}

	if !filetype.IsImage(data) {
		kind, _ := filetype.Match(data)
		return nil, errors.Errorf("artwork is not an image (detected %q)", kind.MIME.Value)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode artwork")
	}
	return img, nil
}
