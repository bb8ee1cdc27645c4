// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anteroom-project/anteroom/lib/clock"
	"github.com/anteroom-project/anteroom/lib/schema"
)

func testClaims() Claims {
	return Claims{
		UserHash: "a1b2c3d4e5f6",
		KeyLast4: "wxyz",
		Models: []schema.Model{
			{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5"},
			{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5"},
		},
	}
}

func TestIssueValidateRoundTrip(t *testing.T) {
	manager := NewManager("test-signing-secret", nil)

	token, err := manager.Issue(testClaims())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserHash != "a1b2c3d4e5f6" {
		t.Errorf("UserHash = %q, want %q", claims.UserHash, "a1b2c3d4e5f6")
	}
	if claims.KeyLast4 != "wxyz" {
		t.Errorf("KeyLast4 = %q, want %q", claims.KeyLast4, "wxyz")
	}
	if len(claims.Models) != 2 || claims.Models[0].ID != "claude-sonnet-4-5" {
		t.Errorf("Models = %+v, want two models led by claude-sonnet-4-5", claims.Models)
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	manager := NewManager("test-signing-secret", nil)
	token, err := manager.Issue(testClaims())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for offset := 1; offset <= 4; offset++ {
		mutated := []byte(token)
		pos := len(mutated) - offset
		if mutated[pos] == 'A' {
			mutated[pos] = 'B'
		} else {
			mutated[pos] = 'A'
		}
		if _, err := manager.Validate(string(mutated)); !errors.Is(err, ErrNoSession) {
			t.Errorf("token with flipped character at -%d validated: %v", offset, err)
		}
	}
}

func TestValidateRejectsWrongSigner(t *testing.T) {
	token, err := NewManager("secret-one", nil).Issue(testClaims())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewManager("secret-two", nil).Validate(token); !errors.Is(err, ErrNoSession) {
		t.Errorf("cross-signer token validated: %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.Fake(start)
	manager := NewManager("test-signing-secret", clk)

	token, err := manager.Issue(testClaims())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clk.Advance(TTL - time.Second)
	if _, err := manager.Validate(token); err != nil {
		t.Errorf("token at TTL-1s rejected: %v", err)
	}

	clk.Advance(2 * time.Second)
	if _, err := manager.Validate(token); !errors.Is(err, ErrNoSession) {
		t.Errorf("token at TTL+1s accepted: %v", err)
	}
}

func TestValidateGarbage(t *testing.T) {
	manager := NewManager("test-signing-secret", nil)
	for _, token := range []string{"", "x", "a.b", "a.b.c", "!!!.???"} {
		if _, err := manager.Validate(token); !errors.Is(err, ErrNoSession) {
			t.Errorf("Validate(%q) = %v, want ErrNoSession", token, err)
		}
	}
}

func TestCookieAttributes(t *testing.T) {
	cookie := Cookie("token-value")
	if cookie.Name != CookieName {
		t.Errorf("Name = %q, want %q", cookie.Name, CookieName)
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Error("cookie must be HttpOnly and Secure")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.Path != "/" {
		t.Errorf("Path = %q, want /", cookie.Path)
	}
	if cookie.MaxAge != int(TTL/time.Second) {
		t.Errorf("MaxAge = %d, want %d", cookie.MaxAge, int(TTL/time.Second))
	}

	// The serialized form must survive a real Set-Cookie header.
	recorder := httptest.NewRecorder()
	http.SetCookie(recorder, cookie)
	header := recorder.Header().Get("Set-Cookie")
	for _, want := range []string{"HttpOnly", "Secure", "SameSite=Lax", "Max-Age=86400", "Path=/"} {
		if !strings.Contains(header, want) {
			t.Errorf("Set-Cookie %q missing %q", header, want)
		}
	}
}

func TestClearCookieExpiresImmediately(t *testing.T) {
	cookie := ClearCookie()
	if cookie.Name != CookieName {
		t.Errorf("Name = %q, want %q", cookie.Name, CookieName)
	}
	if cookie.MaxAge >= 0 {
		t.Errorf("MaxAge = %d, want negative (serialized as Max-Age=0)", cookie.MaxAge)
	}
}

func TestCookieValue(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"anteroom_session=abc123", "abc123"},
		{"other=1; anteroom_session=abc123; third=2", "abc123"},
		{"other=1;anteroom_session=abc123", "abc123"},
		{"anteroom_session_extra=nope; anteroom_session=yes", "yes"},
		{"other=1; third=2", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CookieValue(tc.header, CookieName); got != tc.want {
			t.Errorf("CookieValue(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
