// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay forwards authenticated traffic to per-tenant
// backends. It is the last stage of the request path: by the time a
// request reaches [Relay.Forward], the gateway has verified the
// session and resolved the tenant's sandbox.
//
// The relay decorates traffic with credentials the backend needs but
// the client never sees: the internal gateway token is injected as a
// query parameter, and the tenant's stored API key is decrypted
// per-request and handed to the lifecycle controller as an
// environment override for backend starts.
//
// Cold starts are absorbed two ways. A page load against a cold
// backend gets an immediate interstitial "starting up" page while the
// start proceeds detached in the background — deliberately not
// cancelled if the client disconnects, since other requests for the
// same tenant depend on the backend coming up. Everything else blocks
// on readiness and surfaces a 503 with a retry hint on failure.
//
// WebSocket traffic is relayed message by message in both directions.
// Backend-to-client messages that parse as JSON error objects get
// known backend error strings rewritten into user-facing guidance;
// close codes are sanitized to wire-legal values and close reasons
// are rewritten and truncated the same way.
package relay
