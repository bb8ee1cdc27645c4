// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// sensitiveParams are query parameters whose values never reach the
// request log.
var sensitiveParams = map[string]bool{
	"token":  true,
	"apiKey": true,
	"key":    true,
}

// redactQuery replaces sensitive query parameter values so the
// gateway token and credentials never leak through the request log.
func redactQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	redacted := make(url.Values, len(query))
	for name, values := range query {
		if sensitiveParams[name] {
			redacted.Set(name, "[redacted]")
			continue
		}
		redacted[name] = values
	}
	return redacted.Encode()
}

// statusRecorder captures the response status for the request log.
// WriteHeader may never be called on the happy path (implicit 200) or
// at all (hijacked WebSocket connections).
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// withLogging logs one structured line per completed request.
func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades hijack the connection; wrapping the
		// ResponseWriter would hide the http.Hijacker interface from
		// the upgrader.
		if isUpgrade(r) {
			logger.Info("websocket request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", clientAddr(r),
			)
			next.ServeHTTP(w, r)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		begin := time.Now()
		next.ServeHTTP(recorder, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", redactQuery(r.URL.Query()),
			"status", recorder.status,
			"duration", time.Since(begin),
			"remote", clientAddr(r),
		)
	})
}

// withSecurityHeaders sets the response security headers on every
// route, including error responses.
func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Content-Security-Policy",
			"default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self' ws: wss:")
		next.ServeHTTP(w, r)
	})
}

// clientAddr returns the request's client address without the
// ephemeral port, suitable as a rate-limit key.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
