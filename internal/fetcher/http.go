package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/geocluster/internal/atomicfile"
	"github.com/sells-group/geocluster/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	RateLimit   rate.Limit // requests per second, 0 = unlimited
	Retry       *resilience.RetryConfig
}

// HTTPFetcher downloads over net/http with retry and rate limiting.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "geocluster/1.0"
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (f *HTTPFetcher) retryConfig() resilience.RetryConfig {
	if f.opts.Retry != nil {
		return *f.opts.Retry
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = f.opts.MaxAttempts
	cfg.OnRetry = resilience.RetryLogger("fetcher", "http download")
	return cfg
}

// Download fetches rawURL and returns the response body. 429 and 5xx
// responses and network failures are retried.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return resilience.DoVal(ctx, f.retryConfig(), func(ctx context.Context) (io.ReadCloser, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "download")
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			statusErr := eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}
		return resp.Body, nil
	})
}

// DownloadToFile fetches rawURL and writes it to dest.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, dest string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return writeFile(dest, body)
}

// writeFile copies r to dest atomically, so a failed transfer never leaves
// a truncated file behind.
func writeFile(dest string, r io.Reader) (int64, error) {
	var n int64
	err := atomicfile.Write(dest, func(w io.Writer) error {
		var copyErr error
		n, copyErr = io.Copy(w, r)
		if copyErr != nil {
			return eris.Wrap(copyErr, "write file")
		}
		return nil
	})
	return n, err
}
