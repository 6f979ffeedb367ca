// Package ratelimiter throttles ingress traffic independently of
// queue backpressure: a sustained flood gets a 429 here before it ever
// reaches TryEnqueue.
//
// The teacher's rate_limiter package tracks only "has at least one
// second passed since the last accepted request" with one mutex and
// one timestamp — effectively a rate of 1/s with no burst allowance.
// That shape is generalized onto golang.org/x/time/rate's token
// bucket, which the rest of the retrieval pack already depends on,
// giving both a steady rate and a configurable burst instead of a
// hardcoded one-request-per-second gate.
package ratelimiter

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate.Limiter for ingress throttling.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter allowing ratePerSecond sustained requests with
// burst allowed to momentarily exceed that rate.
func New(ratePerSecond float64, burst int) *Limiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 100
	}
	if burst <= 0 {
		burst = int(ratePerSecond)
		if burst == 0 {
			burst = 1
		}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether one request may proceed right now, consuming a
// token if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Middleware wraps next, rejecting with 429 any request beyond the
// configured rate before it reaches next.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Service temporarily unavailable","message":"Rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
