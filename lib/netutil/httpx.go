// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response-body helpers. JSON
// API responses (the upstream model listing, backend control calls)
// are read through these so a misbehaving server cannot exhaust
// gateway memory. Streaming proxy bodies are not read through this
// package — those are relayed incrementally with io.Copy.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 8 MB.
// Legitimate model listings and control responses are orders of
// magnitude smaller; the limit only guards against pathology.
const MaxResponseSize int64 = 8 << 20

// DecodeResponse reads a JSON response body (up to MaxResponseSize
// bytes) and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body for diagnostic error
// messages. Read errors are ignored — a partial body is still useful
// in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
