package dispatch

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/su1ph3r/stampede/pkg/types"
)

// NewClient builds the shared HTTP client for a run. The connection pool is
// sized to the configured concurrency so a full burst can reuse warm
// connections, and redirects are never followed: the raw first response is
// what a race run needs to observe.
func NewClient(cfg types.RunConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Concurrency * 2,
		MaxIdleConnsPerHost: cfg.Concurrency,
		MaxConnsPerHost:     0,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifySSL,
		},
	}

	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
