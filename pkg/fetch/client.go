package fetch

import (
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/config"
)

// maxRedirects bounds redirect chains; listing pages occasionally bounce
// through one or two hops, anything longer is a trap.
const maxRedirects = 10

// NewClient builds the shared HTTP client from configuration. One client is
// used for pages, images, and robots.txt so connection pools are reused.
func NewClient(cfg config.HTTPClientConfig, log *logrus.Logger) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("stopped after 10 redirects")
			}
			log.WithFields(logrus.Fields{
				"from": via[len(via)-1].URL.String(),
				"to":   req.URL.String(),
				"hop":  len(via),
			}).Debug("Following redirect")
			return nil
		},
	}
	log.WithFields(logrus.Fields{
		"timeout":             cfg.Timeout,
		"max_idle_per_host":   cfg.MaxIdleConnsPerHost,
		"force_attempt_http2": transport.ForceAttemptHTTP2,
	}).Debug("HTTP client initialized")
	return client
}
