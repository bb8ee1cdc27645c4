// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anteroom-project/anteroom/lib/credstore"
	"github.com/anteroom-project/anteroom/lifecycle"
	"github.com/anteroom-project/anteroom/sandbox"

	_ "embed"
)

// tokenParam is the query parameter the backend expects its access
// token in. The gateway injects it on the client's behalf — the
// session cookie replaces the backend's own access control.
const tokenParam = "token"

//go:embed interstitial.html
var interstitialPage []byte

// Relay forwards authenticated HTTP and WebSocket traffic to a
// tenant's backend, injecting the internal gateway token and the
// tenant's decrypted credential along the way.
type Relay struct {
	controller       *lifecycle.Controller
	port             int
	gatewayToken     string
	encryptionSecret string
	apiKeyEnv        string
	logger           *slog.Logger
	client           *http.Client
}

// Config holds relay settings.
type Config struct {
	// Controller ensures tenant backends are running.
	Controller *lifecycle.Controller

	// Port is the backend's fixed internal port.
	Port int

	// GatewayToken is the internal token the backend trusts. Empty
	// disables injection.
	GatewayToken string

	// EncryptionSecret decrypts stored tenant credentials.
	EncryptionSecret string

	// APIKeyEnv is the environment variable name the backend reads
	// its API key from. Defaults to "ANTHROPIC_API_KEY".
	APIKeyEnv string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Client is the forwarding HTTP client. The default has no
	// overall timeout — proxied SSE streams are long-lived.
	Client *http.Client
}

// New creates a Relay.
func New(config Config) (*Relay, error) {
	if config.Controller == nil {
		return nil, fmt.Errorf("relay: controller is required")
	}
	if config.Port == 0 {
		return nil, fmt.Errorf("relay: port is required")
	}
	if config.APIKeyEnv == "" {
		config.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Client == nil {
		config.Client = &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Relay{
		controller:       config.Controller,
		port:             config.Port,
		gatewayToken:     config.GatewayToken,
		encryptionSecret: config.EncryptionSecret,
		apiKeyEnv:        config.APIKeyEnv,
		logger:           config.Logger,
		client:           config.Client,
	}, nil
}

// Forward relays one request to the tenant's backend, cold-starting
// it when necessary.
func (rl *Relay) Forward(w http.ResponseWriter, r *http.Request, sb sandbox.Sandbox) {
	logger := rl.logger.With("tenant", sb.Tenant(), "path", r.URL.Path)

	if isWebSocketUpgrade(r) {
		rl.forwardWebSocket(w, r, sb, logger)
		return
	}

	// Cold start with a page load: respond immediately with the
	// interstitial and start the backend detached. The background
	// start is deliberately not tied to this request's context —
	// other requests for the tenant depend on the backend coming up
	// whether or not this client waits around.
	if wantsHTML(r) && !rl.controller.Probe(r.Context(), sb) {
		overrides := rl.tenantOverrides(r.Context(), sb, logger)
		go func() {
			if _, err := rl.controller.EnsureRunning(context.Background(), sb, overrides); err != nil {
				logger.Error("background backend start failed", "error", err)
			}
		}()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(interstitialPage)
		return
	}

	overrides := rl.tenantOverrides(r.Context(), sb, logger)
	if _, err := rl.controller.EnsureRunning(r.Context(), sb, overrides); err != nil {
		logger.Error("backend not ready", "error", err)
		http.Error(w, `{"error":"backend is starting up, please retry shortly"}`, http.StatusServiceUnavailable)
		return
	}

	rl.forwardHTTP(w, r, sb, logger)
}

// tenantOverrides builds the per-tenant environment for backend
// starts: the storage namespace prefix plus the decrypted stored
// credential. Decryption happens per-request, never cached — the
// backend may have restarted since the last one.
//
// A decrypt failure is logged and the request proceeds without the
// credential: the backend's own visible failure is the correct
// outcome, not a gateway-guessed fallback.
func (rl *Relay) tenantOverrides(ctx context.Context, sb sandbox.Sandbox, logger *slog.Logger) map[string]string {
	overrides := map[string]string{
		"ANTEROOM_STORAGE_PREFIX": sb.Tenant(),
	}
	if rl.gatewayToken != "" {
		overrides["ANTEROOM_GATEWAY_TOKEN"] = rl.gatewayToken
	}

	key, err := credstore.Load(ctx, sb, rl.encryptionSecret)
	switch {
	case err == nil:
		overrides[rl.apiKeyEnv] = key.String()
		key.Close()
	case errors.Is(err, credstore.ErrNotFound):
		logger.Debug("tenant has no stored credential")
	default:
		logger.Error("loading stored credential failed", "error", err)
	}
	return overrides
}

// forwardHTTP proxies one plain HTTP request to the backend,
// injecting the gateway token as a query parameter when absent and
// copying status, headers, and body back unmodified.
func (rl *Relay) forwardHTTP(w http.ResponseWriter, r *http.Request, sb sandbox.Sandbox, logger *slog.Logger) {
	addr, err := sb.Addr(rl.port)
	if err != nil {
		logger.Error("resolving backend address", "error", err)
		http.Error(w, `{"error":"backend unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	target := &url.URL{
		Scheme:   "http",
		Host:     addr,
		Path:     r.URL.Path,
		RawQuery: rl.injectToken(r.URL.Query()),
	}

	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		logger.Error("building upstream request", "error", err)
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}
	copyHeaders(upstream.Header, r.Header)
	upstream.Header.Set("X-Forwarded-For", "anteroom")

	response, err := rl.client.Do(upstream)
	if err != nil {
		// A canceled client request is normal teardown, not a backend
		// failure.
		if r.Context().Err() != nil {
			return
		}
		logger.Error("backend request failed", "error", err)
		http.Error(w, `{"error":"backend request failed"}`, http.StatusBadGateway)
		return
	}
	defer response.Body.Close()

	copyHeaders(w.Header(), response.Header)
	w.WriteHeader(response.StatusCode)

	if strings.Contains(response.Header.Get("Content-Type"), "text/event-stream") {
		rl.streamSSE(w, response.Body)
		return
	}
	if _, err := io.Copy(w, response.Body); err != nil && r.Context().Err() == nil {
		logger.Warn("copying backend response", "error", err)
	}
}

// streamSSE copies an event stream flushing after every chunk so
// events reach the client as they happen.
func (rl *Relay) streamSSE(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buffer := make([]byte, 32*1024)
	for {
		n, err := body.Read(buffer)
		if n > 0 {
			if _, writeErr := w.Write(buffer[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// injectToken appends the gateway token to a query string unless the
// client already supplied one.
func (rl *Relay) injectToken(query url.Values) string {
	if rl.gatewayToken != "" && query.Get(tokenParam) == "" {
		query.Set(tokenParam, rl.gatewayToken)
	}
	return query.Encode()
}

// hopHeaders are the hop-by-hop headers stripped when proxying.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// wantsHTML reports whether the request looks like a page load.
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// isWebSocketUpgrade detects an upgrade request via the standard
// headers.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
