package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"jewelry-scraper/pkg/config"
)

// robotsCacheSize bounds the per-host robots.txt cache. 512 hosts is far
// beyond any realistic site list; the LRU just keeps a stuck watch-mode
// process from accumulating entries forever.
const robotsCacheSize = 512

// RobotsHandler fetches, parses, and caches robots.txt per host. A host
// whose robots.txt cannot be retrieved or parsed is cached as nil, which
// reads as "allow everything": an unreachable policy file never blocks a
// crawl.
type RobotsHandler struct {
	client  *http.Client
	limiter *RateLimiter
	cache   *lru.Cache[string, *robotstxt.RobotsData]
	cfg     *config.AppConfig
	log     *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler sharing the crawl's HTTP client
// and rate limiter, so robots fetches respect the same per-host spacing as
// everything else.
func NewRobotsHandler(client *http.Client, limiter *RateLimiter, cfg *config.AppConfig, log *logrus.Entry) *RobotsHandler {
	cache, err := lru.New[string, *robotstxt.RobotsData](robotsCacheSize)
	if err != nil {
		// Only possible with a non-positive size.
		panic(err)
	}
	return &RobotsHandler{
		client:  client,
		limiter: limiter,
		cache:   cache,
		cfg:     cfg,
		log:     log,
	}
}

// Allowed reports whether userAgent may fetch targetURL under the host's
// robots.txt rules. Missing or unreadable rules allow by default.
func (rh *RobotsHandler) Allowed(ctx context.Context, targetURL *url.URL, userAgent string) bool {
	data := rh.get(ctx, targetURL)
	if data == nil {
		return true
	}
	if userAgent == "" {
		userAgent = "*"
	}
	return data.TestAgent(targetURL.RequestURI(), userAgent)
}

// get returns the parsed robots data for targetURL's host, fetching once
// per host and caching the outcome, success or failure.
func (rh *RobotsHandler) get(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Hostname()
	if data, ok := rh.cache.Get(host); ok {
		return data
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	if robotsURL.Scheme != "http" && robotsURL.Scheme != "https" {
		robotsURL.Scheme = "https"
	}
	robotsLog := rh.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL.String()})
	robotsLog.Info("Fetching robots.txt")

	rh.limiter.ApplyDelay(ctx, host, rh.cfg.DefaultDelayPerHost)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Errorf("Building robots.txt request failed: %v", err)
		rh.cache.Add(host, nil)
		return nil
	}
	setBrowserHeaders(req, rh.cfg.DefaultUserAgent)

	resp, err := rh.client.Do(req)
	rh.limiter.UpdateLastRequestTime(host)
	if err != nil {
		robotsLog.Warnf("Fetching robots.txt failed: %v", err)
		rh.cache.Add(host, nil)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		robotsLog.WithField("status_code", resp.StatusCode).Debug("No usable robots.txt")
		rh.cache.Add(host, nil)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Reading robots.txt failed: %v", err)
		rh.cache.Add(host, nil)
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Errorf("Parsing robots.txt failed: %v", err)
		rh.cache.Add(host, nil)
		return nil
	}

	robotsLog.Debug("Parsed robots.txt")
	rh.cache.Add(host, data)
	return data
}
