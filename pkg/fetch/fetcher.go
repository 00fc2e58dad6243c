package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/utils"
)

// Options adjust a single fetch. The zero value is a plain page fetch with
// rotating User-Agent, no robots consultation, and an unbounded body read.
type Options struct {
	UserAgent    string        // fixed identity; empty rotates the built-in pool
	DelayPerHost time.Duration // politeness gap for this host; 0 uses the limiter default
	CheckRobots  bool          // consult robots.txt before the request
	MaxBodyBytes int64         // reject bodies larger than this; 0 = unlimited
	Referer      string        // optional Referer header, e.g. the listing page
}

// Result is a fully read, successful response.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    *url.URL // after redirects
}

// Fetcher performs polite single-attempt GETs. Per-host concurrency and
// request spacing are enforced here so every caller, page pipeline or image
// downloader, shares the same politeness state. A failed request is never
// retried: the caller records the typed error and moves on.
type Fetcher struct {
	client  *http.Client
	robots  *RobotsHandler
	hosts   *HostLimiter
	limiter *RateLimiter
	cfg     *config.AppConfig
	log     *logrus.Logger
}

// NewFetcher creates a Fetcher. robots may be nil when robots.txt handling
// is disabled globally.
func NewFetcher(client *http.Client, robots *RobotsHandler, hosts *HostLimiter, limiter *RateLimiter, cfg *config.AppConfig, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		robots:  robots,
		hosts:   hosts,
		limiter: limiter,
		cfg:     cfg,
		log:     log,
	}
}

// Fetch runs the full polite pipeline for one URL: host slot, optional
// robots check, inter-request delay, one HTTP attempt, body read. Exactly
// one request is sent; any failure comes back as a typed error
// (HTTPStatusError, TimeoutError, NetworkError) or a wrapped sentinel.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid fetch URL %q: %v", utils.ErrParsing, rawURL, err)
	}
	host := u.Hostname()
	reqLog := f.log.WithFields(logrus.Fields{"url": rawURL, "host": host})

	// Per-host slot. Bounded wait so a stalled host cannot pin a worker.
	acquireCtx := ctx
	var cancelAcquire context.CancelFunc
	if f.cfg.SemaphoreAcquireTimeout > 0 {
		acquireCtx, cancelAcquire = context.WithTimeout(ctx, f.cfg.SemaphoreAcquireTimeout)
	}
	err = f.hosts.Acquire(acquireCtx, host)
	if cancelAcquire != nil {
		cancelAcquire()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: host slot for %s: %v", utils.ErrSemaphoreTimeout, host, err)
	}
	defer f.hosts.Release(host)

	if opts.CheckRobots && f.robots != nil {
		if !f.robots.Allowed(ctx, u, opts.UserAgent) {
			reqLog.Debug("Blocked by robots.txt")
			return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, rawURL)
		}
	}

	f.limiter.ApplyDelay(ctx, host, opts.DelayPerHost)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	setBrowserHeaders(req, opts.UserAgent)
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}

	resp, err := f.client.Do(req)
	f.limiter.UpdateLastRequestTime(host)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		reqLog.WithFields(logrus.Fields{"status_code": resp.StatusCode, "status": resp.Status}).Debug("Non-200 response")
		return nil, &HTTPStatusError{Code: resp.StatusCode, URL: rawURL}
	}

	reader := io.Reader(resp.Body)
	if opts.MaxBodyBytes > 0 {
		// Read one extra byte so an oversized body is detected rather than
		// silently truncated; a clipped JPEG fails much later and worse.
		reader = io.LimitReader(resp.Body, opts.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, classifyReadError(err)
	}
	if opts.MaxBodyBytes > 0 && int64(len(body)) > opts.MaxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d byte cap", utils.ErrResponseBodyRead, opts.MaxBodyBytes)
	}

	reqLog.WithField("bytes", len(body)).Debug("Fetched")
	return &Result{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL,
	}, nil
}

// classifyTransportError maps an http.Client.Do failure to a typed error.
// Plain context cancellation passes through untouched so shutdown is not
// misreported as a host failure.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Err: err}
	}
	return &NetworkError{Err: err}
}

// classifyReadError maps a body-read failure. Client timeouts can fire
// mid-read, which should look the same as a timeout during the request.
func classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	return fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
}
