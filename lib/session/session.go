// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package session issues and validates the gateway's signed session
// tokens and owns the cookie wire format. Tokens are minted by
// lib/credcodec; this package adds the claims shape, the fixed TTL,
// and cookie construction.
//
// A session whose signature does not verify, or whose age exceeds
// [TTL], is indistinguishable from no session: every failure mode of
// [Manager.Validate] is ErrNoSession.
package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anteroom-project/anteroom/lib/clock"
	"github.com/anteroom-project/anteroom/lib/credcodec"
	"github.com/anteroom-project/anteroom/lib/schema"
)

// CookieName is the session cookie name.
const CookieName = "anteroom_session"

// TTL is the fixed session lifetime. There is no sliding renewal: a
// session expires TTL after issuance regardless of activity.
const TTL = 24 * time.Hour

// ErrNoSession is returned by Validate for every token that does not
// yield a live session: absent, malformed, tampered, or expired. The
// caller must not be able to tell these apart.
var ErrNoSession = errors.New("session: no valid session")

// Claims is the payload of a session token. It never contains the
// tenant's secret key — only the one-way identity hash and a display
// fragment.
type Claims struct {
	// UserHash is the tenant identity (credcodec.HashIdentity of the
	// secret key).
	UserHash string `json:"sub"`

	// KeyLast4 is the final four characters of the secret key, for
	// display only.
	KeyLast4 string `json:"last4"`

	// Models lists the capabilities the tenant was authorized for at
	// login.
	Models []schema.Model `json:"models"`

	// IssuedAt is the creation timestamp in Unix seconds. Set by
	// Issue; validated against TTL by Validate.
	IssuedAt int64 `json:"iat"`
}

// Manager issues and validates session tokens with a fixed signing
// secret.
type Manager struct {
	signingSecret string
	clock         clock.Clock
}

// NewManager creates a session Manager. The signing secret is the
// opaque operator-managed string; key derivation happens inside the
// codec. A nil clk defaults to the real clock.
func NewManager(signingSecret string, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{signingSecret: signingSecret, clock: clk}
}

// Issue mints a signed token for the given claims. The creation
// timestamp is set here; any IssuedAt already present is overwritten.
func (m *Manager) Issue(claims Claims) (string, error) {
	claims.IssuedAt = m.clock.Now().Unix()
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return credcodec.Sign(payload, m.signingSecret)
}

// Validate verifies the token's signature and age and returns the
// embedded claims. Returns ErrNoSession for anything less than a
// fully valid, unexpired token.
func (m *Manager) Validate(token string) (*Claims, error) {
	payload, err := credcodec.Verify(token, m.signingSecret, TTL, m.clock.Now())
	if err != nil {
		return nil, ErrNoSession
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrNoSession
	}
	if claims.UserHash == "" {
		return nil, ErrNoSession
	}
	return &claims, nil
}

// Cookie builds the session cookie carrying the given token:
// HTTP-only, secure-transport-only, SameSite=Lax, root path, Max-Age
// matching TTL.
func Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(TTL / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie builds the logout cookie: same name, immediately
// expiring, forcing the client to delete the session.
func ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieValue locates the named cookie in a raw Cookie header string
// (semicolon-delimited pairs, any position) and returns its value, or
// "" if absent.
func CookieValue(header, name string) string {
	for _, pair := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && key == name {
			return value
		}
	}
	return ""
}
