// Package geocode provides address-to-coordinate lookup providers.
//
// A Provider answers a single question: where is this address? It returns
// (nil, nil) when the address is unknown, a resilience.TransientError when the
// service timed out or was unavailable, and any other error for permanent
// failures. Retry policy lives with the caller, not here.
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/geocluster/internal/resilience"
)

// Coordinate is a resolved WGS84 position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    string  `json:"source"`
}

// Provider resolves free-text addresses.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, address string) (*Coordinate, error)
}

// Option configures an HTTP-backed provider.
type Option func(*httpProvider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *httpProvider) {
		p.httpClient = hc
	}
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(u string) Option {
	return func(p *httpProvider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(p *httpProvider) {
		if ua != "" {
			p.userAgent = ua
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *httpProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRateLimit sets the requests-per-second limit. Zero or negative disables limiting.
func WithRateLimit(rps float64) Option {
	return func(p *httpProvider) {
		if rps <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// httpProvider carries the transport settings shared by HTTP geocoders.
type httpProvider struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	timeout    time.Duration
	limiter    *rate.Limiter
}

func newHTTPProvider(baseURL string, rps float64, opts []Option) httpProvider {
	p := httpProvider{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		userAgent:  "geocluster/1.0",
		timeout:    10 * time.Second,
	}
	WithRateLimit(rps)(&p)
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// do sends req with the per-request timeout and maps failures onto the
// transient/permanent taxonomy. The caller must close the returned body.
func (p *httpProvider) do(ctx context.Context, name, reqURL string) (*http.Response, context.CancelFunc, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, nil, eris.Wrapf(err, "geocode: %s rate limit", name)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		cancel()
		return nil, nil, eris.Wrapf(err, "geocode: %s build request", name)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		cancel()
		// Parent cancellation is not a provider failure.
		if ctx.Err() != nil {
			return nil, nil, eris.Wrapf(ctx.Err(), "geocode: %s request", name)
		}
		if resilience.IsTransient(err) {
			return nil, nil, resilience.NewTransientError(eris.Wrapf(err, "geocode: %s request", name), 0)
		}
		return nil, nil, eris.Wrapf(err, "geocode: %s request", name)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		statusErr := eris.Errorf("geocode: %s returned status %d", name, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, nil, statusErr
	}
	return resp, cancel, nil
}

// New constructs the named provider. Only one provider is active per run.
func New(name string, rps float64, opts ...Option) (Provider, error) {
	switch strings.ToLower(name) {
	case "nominatim", "":
		return NewNominatim(rps, opts...), nil
	case "census":
		return NewCensus(rps, opts...), nil
	default:
		return nil, eris.Errorf("geocode: unknown provider %q", name)
	}
}
