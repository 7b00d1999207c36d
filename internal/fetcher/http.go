package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent       string
	ProbeTimeout    time.Duration // per-probe deadline, default 20s
	RetrieveTimeout time.Duration // per-retrieval deadline, default 60s
	MaxRetries      int
	RateLimiters    map[string]*rate.Limiter // per-host, optional
}

// HTTP implements Client over net/http, with per-host rate limiting and
// retry with exponential backoff on transient failures. FTP URLs are
// dispatched to the FTP transport by scheme.
type HTTP struct {
	client   *http.Client
	opts     Options
	limiters map[string]*rate.Limiter
	ftp      *ftpTransport
}

// New creates an HTTP fetcher with the given options.
func New(opts Options) *HTTP {
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = 20 * time.Second
	}
	if opts.RetrieveTimeout == 0 {
		opts.RetrieveTimeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "datahub-cli/1.0"
	}
	limiters := make(map[string]*rate.Limiter)
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTP{
		// No client-level timeout: each operation sets its own deadline
		// through the request context.
		client:   &http.Client{Transport: transport},
		opts:     opts,
		limiters: limiters,
		ftp:      &ftpTransport{timeout: opts.RetrieveTimeout},
	}
}

func (f *HTTP) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rate.NewLimiter(20, 20)
	}
	if lim, ok := f.limiters[u.Host]; ok {
		return lim
	}
	return rate.NewLimiter(20, 20)
}

// Probe issues a HEAD request and collects the freshness headers. Any
// failure to complete the request yields nil; the caller decides whether
// to fetch anyway.
func (f *HTTP) Probe(ctx context.Context, rawURL string) *ProbeResult {
	if isFTP(rawURL) {
		// FTP carries no cheap freshness metadata worth probing.
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		zap.L().Debug("probe failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck

	return &ProbeResult{
		Status:        resp.StatusCode,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: resp.Header.Get("Content-Length"),
	}
}

// Retrieve downloads the full body of the URL.
func (f *HTTP) Retrieve(ctx context.Context, rawURL string) ([]byte, error) {
	if isFTP(rawURL) {
		return f.ftp.retrieve(ctx, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.RetrieveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Status: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "read body of %s", rawURL)
	}
	return body, nil
}

// doWithRetry retries transient failures (network errors, 429, 5xx) with
// exponential backoff and jitter. Definitive statuses return immediately.
func (f *HTTP) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := f.limiterFor(req.URL.String()).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		cloned := req.Clone(ctx)
		resp, err := f.client.Do(cloned)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrapf(ctx.Err(), "fetch %s", req.URL.String())
			}
			lastErr = err
			zap.L().Warn("http request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = &FetchError{Status: resp.StatusCode, URL: req.URL.String()}
			zap.L().Warn("server error, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			f.backoff(ctx, attempt)
			continue
		}

		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

func (f *HTTP) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func isFTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == "ftp"
}
