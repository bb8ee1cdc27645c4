// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the composition root: it classifies requests as
// public or session-gated, drives the login flow, and hands gated
// traffic to the relay with an explicitly resolved tenant.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anteroom-project/anteroom/gateway/activity"
	"github.com/anteroom-project/anteroom/lib/clock"
	"github.com/anteroom-project/anteroom/lib/credcodec"
	"github.com/anteroom-project/anteroom/lib/credstore"
	"github.com/anteroom-project/anteroom/lib/identity"
	"github.com/anteroom-project/anteroom/lib/ratelimit"
	"github.com/anteroom-project/anteroom/lib/session"
	"github.com/anteroom-project/anteroom/relay"
	"github.com/anteroom-project/anteroom/sandbox"

	_ "embed"
)

//go:embed static/index.html
var shellPage []byte

// maxLoginBodySize bounds the login request body.
const maxLoginBodySize = 64 * 1024

// Config holds the gateway's collaborators and settings.
type Config struct {
	// File is the operator configuration. Nil uses defaults.
	File *FileConfig

	// Secrets is the environment secret surface.
	Secrets Secrets

	// Validator checks API keys upstream.
	Validator *identity.Validator

	// Limiter throttles login attempts per client address. Nil
	// selects an in-memory fixed-window limiter with defaults.
	Limiter ratelimit.Limiter

	// Resolver maps tenant hashes to sandboxes.
	Resolver sandbox.Resolver

	// Relay forwards gated traffic to tenant backends.
	Relay *relay.Relay

	// Activity is the optional login-audit store.
	Activity *activity.Store

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Gateway routes all inbound traffic.
type Gateway struct {
	healthPath       string
	devTenant        string
	debugRoutes      bool
	idleTimeout      time.Duration
	sessions         *session.Manager
	encryptionSecret string
	validator        *identity.Validator
	limiter          ratelimit.Limiter
	resolver         sandbox.Resolver
	relay            *relay.Relay
	activity         *activity.Store
	clock            clock.Clock
	logger           *slog.Logger
	started          time.Time
}

// New creates a Gateway. A missing signing or encryption secret is
// not a construction error: the gateway serves everything except
// login, which reports a server configuration error.
func New(config Config) (*Gateway, error) {
	if config.Validator == nil {
		return nil, fmt.Errorf("gateway: validator is required")
	}
	if config.Resolver == nil {
		return nil, fmt.Errorf("gateway: resolver is required")
	}
	if config.Relay == nil {
		return nil, fmt.Errorf("gateway: relay is required")
	}
	if config.File == nil {
		config.File = &FileConfig{}
	}
	config.File.applyDefaults()
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewMemory(ratelimit.Config{Clock: config.Clock})
	}

	gw := &Gateway{
		healthPath:       config.File.HealthPath,
		devTenant:        config.File.DevTenant,
		debugRoutes:      config.File.DebugRoutes,
		idleTimeout:      config.File.Backend.IdleTimeout.Std(),
		encryptionSecret: config.Secrets.EncryptionSecret,
		validator:        config.Validator,
		limiter:          config.Limiter,
		resolver:         config.Resolver,
		relay:            config.Relay,
		activity:         config.Activity,
		clock:            config.Clock,
		logger:           config.Logger,
		started:          config.Clock.Now(),
	}
	if config.Secrets.SigningSecret != "" {
		gw.sessions = session.NewManager(config.Secrets.SigningSecret, config.Clock)
	}
	if gw.devTenant != "" {
		gw.logger.Warn("development mode: proxied requests pinned to a fixed tenant",
			"tenant", gw.devTenant)
	}
	return gw, nil
}

// Handler returns the gateway's full middleware-wrapped route tree.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+g.healthPath, g.handleHealth)
	mux.HandleFunc("GET /login", g.serveShell)
	mux.HandleFunc("POST /api/auth/login", g.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", g.handleLogout)
	mux.HandleFunc("GET /api/auth/me", g.handleMe)
	if g.debugRoutes {
		mux.HandleFunc("GET /api/debug/idle", g.handleDebugIdle)
	}
	mux.HandleFunc("/", g.handleGated)
	return withLogging(g.logger, withSecurityHeaders(mux))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": g.clock.Now().Sub(g.started).Round(time.Second).String(),
	})
}

func (g *Gateway) serveShell(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(shellPage)
}

type loginRequest struct {
	APIKey string `json:"apiKey"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !g.limiter.Allow(clientAddr(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "too many login attempts, try again later",
		})
		return
	}

	var body loginRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodySize))
	if err := decoder.Decode(&body); err != nil || body.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "missing apiKey",
		})
		return
	}

	if g.sessions == nil || g.encryptionSecret == "" {
		// Which secret is absent stays in the server log only.
		g.logger.Error("login attempted without signing/encryption secrets configured")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "server configuration error",
		})
		return
	}

	if err := identity.CheckFormat(body.APIKey); err != nil {
		// Deliberately the same message as an upstream rejection: no
		// oracle for malformed vs unregistered.
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid or unauthorized API key",
		})
		return
	}

	result, err := g.validator.Validate(r.Context(), body.APIKey)
	if err != nil {
		g.writeValidationError(w, err)
		return
	}

	userHash := credcodec.HashIdentity(body.APIKey)
	keyLast4 := identity.KeyLast4(body.APIKey)

	// The encrypted credential write and the audit record are
	// best-effort: the session is the product of login, and the
	// backend's own failure to find a credential later is visible and
	// diagnosable.
	g.storeCredential(r.Context(), userHash, body.APIKey)
	if g.activity != nil {
		if err := g.activity.RecordLogin(r.Context(), userHash, keyLast4, clientAddr(r)); err != nil {
			g.logger.Error("recording login activity", "error", err)
		}
	}

	token, err := g.sessions.Issue(session.Claims{
		UserHash: userHash,
		KeyLast4: keyLast4,
		Models:   result.Models,
	})
	if err != nil {
		g.logger.Error("issuing session token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "server configuration error",
		})
		return
	}

	http.SetCookie(w, session.Cookie(token))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"userHash": userHash,
		"keyLast4": keyLast4,
		"models":   result.Models,
	})
}

func (g *Gateway) writeValidationError(w http.ResponseWriter, err error) {
	var upstream *identity.UpstreamError
	switch {
	case errors.Is(err, identity.ErrInvalidKey):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid or unauthorized API key",
		})
	case errors.Is(err, identity.ErrUnreachable):
		g.logger.Error("identity upstream unreachable", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "identity service unreachable, try again later",
		})
	case errors.As(err, &upstream):
		g.logger.Error("identity upstream error", "status", upstream.Status)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": fmt.Sprintf("identity service error (status %d)", upstream.Status),
		})
	default:
		g.logger.Error("validating API key", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "server configuration error",
		})
	}
}

func (g *Gateway) storeCredential(ctx context.Context, userHash, apiKey string) {
	sb, err := g.resolver.Resolve(ctx, userHash)
	if err != nil {
		g.logger.Error("resolving sandbox at login", "tenant", userHash, "error", err)
		return
	}
	if err := credstore.Store(ctx, sb, apiKey, g.encryptionSecret); err != nil {
		g.logger.Error("storing encrypted credential", "tenant", userHash, "error", err)
	}
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, session.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleMe reports session state truthfully in every operating mode:
// dev-mode tenant pinning applies to proxied traffic only, never here.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := g.sessionClaims(r)
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userHash":      claims.UserHash,
		"keyLast4":      claims.KeyLast4,
		"models":        claims.Models,
	})
}

func (g *Gateway) handleDebugIdle(w http.ResponseWriter, r *http.Request) {
	if g.activity == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "activity store disabled"})
		return
	}
	idleTimeout := g.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = 24 * time.Hour
	}
	records, err := g.activity.IdleSince(r.Context(), g.clock.Now().Add(-idleTimeout))
	if err != nil {
		g.logger.Error("querying idle tenants", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"idle": records})
}

// sessionClaims returns the request's verified session claims, or nil.
// Every failure mode (no cookie, bad signature, expired, malformed)
// collapses to nil.
func (g *Gateway) sessionClaims(r *http.Request) *session.Claims {
	if g.sessions == nil {
		return nil
	}
	token := session.CookieValue(r.Header.Get("Cookie"), session.CookieName)
	if token == "" {
		return nil
	}
	claims, err := g.sessions.Validate(token)
	if err != nil {
		return nil
	}
	return claims
}

// handleGated is the catch-all: verify the session, resolve the
// tenant, and relay. The resolved tenant travels as an explicit value,
// never through the request context.
func (g *Gateway) handleGated(w http.ResponseWriter, r *http.Request) {
	tenant := ""
	if claims := g.sessionClaims(r); claims != nil {
		tenant = claims.UserHash
	} else if g.devTenant != "" {
		tenant = g.devTenant
	}

	if tenant == "" {
		// An unauthenticated page load gets the shell so the client
		// renders its own login UI; a redirect here can loop with the
		// SPA's routing.
		if acceptsHTML(r) && !isUpgrade(r) {
			g.serveShell(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "authentication required: obtain a session via POST /api/auth/login",
		})
		return
	}

	g.proxy(w, r, tenant)
}

// proxy resolves the tenant's sandbox and hands the request to the
// relay.
func (g *Gateway) proxy(w http.ResponseWriter, r *http.Request, tenant string) {
	sb, err := g.resolver.Resolve(r.Context(), tenant)
	if err != nil {
		g.logger.Error("resolving sandbox", "tenant", tenant, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "backend unavailable, try again shortly",
		})
		return
	}
	if g.activity != nil {
		if err := g.activity.Touch(r.Context(), tenant); err != nil {
			g.logger.Warn("recording tenant activity", "error", err)
		}
	}
	g.relay.Forward(w, r, sb)
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
