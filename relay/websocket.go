// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anteroom-project/anteroom/sandbox"
)

// controlWriteTimeout bounds close-frame writes during teardown.
const controlWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	// The session cookie is the access control; origin enforcement
	// would break native clients that legitimately omit it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// forwardWebSocket bridges a client WebSocket to the tenant's
// backend. The relay is message-granular, not a raw pipe:
// client->backend messages pass unchanged, backend->client messages
// get known error strings rewritten, and close codes/reasons are
// sanitized in both directions.
func (rl *Relay) forwardWebSocket(w http.ResponseWriter, r *http.Request, sb sandbox.Sandbox, logger *slog.Logger) {
	overrides := rl.tenantOverrides(r.Context(), sb, logger)
	if _, err := rl.controller.EnsureRunning(r.Context(), sb, overrides); err != nil {
		logger.Error("backend not ready for websocket", "error", err)
		http.Error(w, `{"error":"backend is starting up, please retry shortly"}`, http.StatusServiceUnavailable)
		return
	}

	addr, err := sb.Addr(rl.port)
	if err != nil {
		logger.Error("resolving backend address", "error", err)
		http.Error(w, `{"error":"backend unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	backendURL := &url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     r.URL.Path,
		RawQuery: rl.injectToken(r.URL.Query()),
	}

	// Dial the backend before upgrading the client so a dial failure
	// can still produce a plain HTTP error.
	backend, _, err := websocket.DefaultDialer.DialContext(r.Context(), backendURL.String(), nil)
	if err != nil {
		logger.Error("dialing backend websocket", "error", err)
		http.Error(w, `{"error":"backend websocket unavailable"}`, http.StatusBadGateway)
		return
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own HTTP error.
		logger.Warn("websocket upgrade failed", "error", err)
		backend.Close()
		return
	}

	logger.Debug("websocket relay established")

	done := make(chan struct{}, 2)
	go func() {
		rl.relayLoop(client, backend, nil, logger)
		done <- struct{}{}
	}()
	go func() {
		rl.relayLoop(backend, client, rewriteMessage, logger)
		done <- struct{}{}
	}()

	// Either direction ending tears down both sockets; the second
	// loop exits on the closed connection.
	<-done
	client.Close()
	backend.Close()
	<-done
}

// relayLoop pumps messages from src to dst until src closes or
// errors. A clean close is propagated with a sanitized code and a
// rewritten, truncated reason; a transport error closes dst with a
// generic abnormal code as a last resort.
func (rl *Relay) relayLoop(src, dst *websocket.Conn, transform func([]byte) []byte, logger *slog.Logger) {
	for {
		messageType, payload, err := src.ReadMessage()
		if err != nil {
			deadline := time.Now().Add(controlWriteTimeout)
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code := sanitizeCloseCode(closeErr.Code)
				reason := sanitizeCloseReason(closeErr.Text)
				dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason), deadline)
			} else {
				dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""), deadline)
			}
			return
		}

		if transform != nil && messageType == websocket.TextMessage {
			payload = transform(payload)
		}
		if err := dst.WriteMessage(messageType, payload); err != nil {
			logger.Debug("websocket relay write failed", "error", err)
			return
		}
	}
}
