// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity validates tenant API keys against the upstream
// model provider and enumerates the models the key is authorized to
// use. It is independent of session logic: the gateway calls it once
// at login and never again for the lifetime of the session.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/anteroom-project/anteroom/lib/netutil"
	"github.com/anteroom-project/anteroom/lib/schema"
)

// DefaultBaseURL is the upstream identity/model provider.
const DefaultBaseURL = "https://api.anthropic.com"

// minimumKeyLength is the shortest plausible API key. Anything shorter
// is rejected before a network call.
const minimumKeyLength = 12

// keyPrefix is the upstream's key format convention.
const keyPrefix = "sk-"

var (
	// ErrMalformedKey means the presented secret failed the format
	// pre-check; no network call was made.
	ErrMalformedKey = errors.New("identity: malformed API key")

	// ErrInvalidKey means the upstream rejected the credential
	// (401/403).
	ErrInvalidKey = errors.New("identity: invalid or unauthorized API key")

	// ErrUnreachable means the upstream could not be reached at the
	// transport level.
	ErrUnreachable = errors.New("identity: upstream unreachable")
)

// UpstreamError is a non-2xx, non-auth upstream response. The numeric
// status is surfaced for diagnostics.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("identity: upstream returned status %d", e.Status)
}

// Result is a successful validation: the capabilities available to
// the tenant.
type Result struct {
	Models []schema.Model
}

// Validator checks API keys against the upstream provider.
type Validator struct {
	baseURL string
	client  *http.Client
}

// NewValidator creates a Validator. An empty baseURL selects
// DefaultBaseURL. A nil client gets a default with a bounded timeout —
// key validation is a small control call, never a stream.
func NewValidator(baseURL string, client *http.Client) *Validator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Validator{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// CheckFormat is the pre-network format gate: non-empty, no
// whitespace, expected prefix, minimum length. Rejecting obviously
// malformed input here avoids burning an upstream round-trip (and the
// caller's rate-limit budget).
func CheckFormat(key string) error {
	if key == "" {
		return ErrMalformedKey
	}
	if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return ErrMalformedKey
	}
	if !strings.HasPrefix(key, keyPrefix) || len(key) < minimumKeyLength {
		return ErrMalformedKey
	}
	return nil
}

// modelList is the upstream listing response shape.
type modelList struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

// Validate confirms the key with the upstream model listing endpoint
// and returns the tenant's capabilities.
//
// Error mapping: format failure -> ErrMalformedKey; upstream 401/403
// -> ErrInvalidKey; other non-2xx -> *UpstreamError; transport
// failure -> wrapped ErrUnreachable.
func (v *Validator) Validate(ctx context.Context, key string) (*Result, error) {
	if err := CheckFormat(key); err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("identity: building request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+key)
	request.Header.Set("x-api-key", key)
	request.Header.Set("anthropic-version", "2023-06-01")

	response, err := v.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidKey
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return nil, &UpstreamError{Status: response.StatusCode}
	}

	var listing modelList
	if err := netutil.DecodeResponse(response.Body, &listing); err != nil {
		return nil, fmt.Errorf("identity: decoding model listing: %w", err)
	}

	result := &Result{Models: make([]schema.Model, 0, len(listing.Data))}
	for _, entry := range listing.Data {
		name := entry.DisplayName
		if name == "" {
			name = entry.ID
		}
		result.Models = append(result.Models, schema.Model{ID: entry.ID, Name: name})
	}
	return result, nil
}

// KeyLast4 returns the non-sensitive display fragment of a key: its
// final four characters.
func KeyLast4(key string) string {
	if len(key) < 4 {
		return key
	}
	return key[len(key)-4:]
}
