// Package httpclient builds the single, shared HTTP client used for
// every outbound call to an analyzer — both dispatch sends and health
// probes share one keep-alive connection pool (spec §5: "Maintain a
// persistent HTTP connection pool keyed by analyzer endpoint ... Probes
// and dispatches share the pool").
package httpclient

import (
	"net/http"
	"time"
)

// New builds an *http.Client with a bounded, reusable connection pool
// per analyzer endpoint and no per-request timeout — callers must supply
// a context deadline on each request (dispatch and probe both do, with
// independent timeouts per spec §5).
func New(maxIdlePerHost int) *http.Client {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 64
	}
	transport := &http.Transport{
		MaxIdleConns:        maxIdlePerHost * 4,
		MaxIdleConnsPerHost: maxIdlePerHost,
		MaxConnsPerHost:     maxIdlePerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
