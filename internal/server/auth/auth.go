// Copyright 2025 Docflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth provides the bearer token and proxy-header authentication
// middleware for the HTTP API, plus a per-client rate limiter.
package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/docflow/ingest/internal/server/httputil"
)

// Config controls the middleware. A zero Config authenticates nothing and
// rate-limits nothing.
type Config struct {
	// Token, when set, requires a matching Authorization: Bearer header.
	Token string

	// TrustProxyHeaders accepts an upstream-asserted identity header
	// (X-Forwarded-User) instead of a bearer token, but only from the
	// allowed forwarder IPs.
	TrustProxyHeaders bool
	ForwardedAllowIPs []string

	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// Middleware enforces the configured authentication and rate limits.
type Middleware struct {
	cfg Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Middleware.
func New(cfg Config) *Middleware {
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = int(cfg.RateLimit)
		if cfg.RateBurst < 1 {
			cfg.RateBurst = 1
		}
	}
	return &Middleware{cfg: cfg, limiters: map[string]*rate.Limiter{}}
}

// Wrap applies rate limiting and authentication around a handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)

		if m.cfg.RateLimit > 0 && !m.limiter(client).Allow() {
			httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if !m.authenticate(r, client) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authenticate checks the request's credentials. With no token configured
// every request passes.
func (m *Middleware) authenticate(r *http.Request, client string) bool {
	if m.cfg.Token == "" {
		return true
	}

	if token, ok := extractBearerToken(r); ok {
		return subtle.ConstantTimeCompare([]byte(token), []byte(m.cfg.Token)) == 1
	}

	if m.cfg.TrustProxyHeaders && r.Header.Get("X-Forwarded-User") != "" {
		return m.forwarderAllowed(client)
	}
	return false
}

// forwarderAllowed reports whether the immediate peer may assert proxy
// identity headers.
func (m *Middleware) forwarderAllowed(client string) bool {
	if len(m.cfg.ForwardedAllowIPs) == 0 {
		return false
	}
	for _, allowed := range m.cfg.ForwardedAllowIPs {
		if allowed == "*" || allowed == client {
			return true
		}
	}
	return false
}

// limiter returns the rate limiter for one client, creating it on first
// sight.
func (m *Middleware) limiter(client string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[client]
	if !ok {
		l = rate.NewLimiter(rate.Limit(m.cfg.RateLimit), m.cfg.RateBurst)
		m.limiters[client] = l
	}
	return l
}

// extractBearerToken pulls the token out of an Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// clientIP returns the peer address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
