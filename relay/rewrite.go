// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"
)

// maxCloseReasonLength is the wire protocol's limit on a close frame
// reason: 125 bytes of control payload minus the 2-byte status code.
const maxCloseReasonLength = 123

// rewriteRule maps a known backend error substring to user-facing
// guidance. The session layer replaces the backend's own token
// scheme, so backend errors about tokens would otherwise point users
// at a credential they never see.
//
// Substring matching is fragile against upstream wording changes; the
// backend offers no structured error-code channel, so wording is the
// contract we have.
type rewriteRule struct {
	match       string
	replacement string
}

var rewriteRules = []rewriteRule{
	{
		match:       "gateway token",
		replacement: "Please open the chat through your gateway URL — direct backend access is handled for you.",
	},
	{
		match:       "Invalid token",
		replacement: "Please open the chat through your gateway URL — direct backend access is handled for you.",
	},
	{
		match:       "missing token query parameter",
		replacement: "Please open the chat through your gateway URL — direct backend access is handled for you.",
	},
}

// rewriteErrorText replaces recognized backend error strings with
// user-facing guidance. Unrecognized text passes through unchanged.
func rewriteErrorText(text string) string {
	for _, rule := range rewriteRules {
		if strings.Contains(text, rule.match) {
			return rule.replacement
		}
	}
	return text
}

// rewriteMessage inspects a backend->client payload. If it parses as
// a JSON object with a recognizable error-message field, known error
// strings are rewritten before re-serialization. Non-JSON and
// unrecognized payloads pass through byte-identical.
func rewriteMessage(payload []byte) []byte {
	var message map[string]any
	if err := json.Unmarshal(payload, &message); err != nil {
		return payload
	}

	changed := false
	for _, field := range []string{"error", "message"} {
		text, ok := message[field].(string)
		if !ok {
			continue
		}
		if rewritten := rewriteErrorText(text); rewritten != text {
			message[field] = rewritten
			changed = true
		}
	}
	if !changed {
		return payload
	}

	rewritten, err := json.Marshal(message)
	if err != nil {
		return payload
	}
	return rewritten
}

// sanitizeCloseCode replaces reserved and non-transmittable close
// codes with a generic "unexpected condition" code. RFC 6455 forbids
// sending 1005, 1006, and 1015 on the wire, and reserves everything
// outside 1000-1011 / 3000-4999.
func sanitizeCloseCode(code int) int {
	switch {
	case code >= 1000 && code <= 1003:
		return code
	case code >= 1007 && code <= 1011:
		return code
	case code >= 3000 && code <= 4999:
		return code
	default:
		return websocket.CloseInternalServerErr
	}
}

// sanitizeCloseReason applies error rewriting to a close reason and
// truncates the result to the wire limit. Truncation respects UTF-8
// boundaries — a close reason must remain valid UTF-8.
func sanitizeCloseReason(reason string) string {
	reason = rewriteErrorText(reason)
	if len(reason) <= maxCloseReasonLength {
		return reason
	}
	cut := maxCloseReasonLength
	for cut > 0 && reason[cut]&0xc0 == 0x80 {
		cut--
	}
	return reason[:cut]
}
