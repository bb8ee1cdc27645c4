// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsBackend is an httptest handler that upgrades, records the token it
// was given, and hands the connection to a per-test script.
func wsBackend(t *testing.T, script func(conn *websocket.Conn)) (*httptest.Server, *string) {
	t.Helper()
	var seenToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenToken = r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("backend upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(server.Close)
	return server, &seenToken
}

// relayServer wires a Relay in front of a warm fake sandbox pointing at
// the given backend and serves it over real HTTP so a WebSocket client
// can dial it.
func relayServer(t *testing.T, backendAddr string) *httptest.Server {
	t.Helper()
	sb := newFakeSandbox("tenant-a", backendAddr, true)
	rl := testRelay(t, time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.Forward(w, r, sb)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestWebSocketRelayBidirectional(t *testing.T) {
	backend, seenToken := wsBackend(t, func(conn *websocket.Conn) {
		// Echo the first client message back, then push a known backend
		// error that the relay must rewrite on the way out.
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, payload)
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"error","error":"Invalid token: access denied"}`))
		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	})

	front := relayServer(t, backend.Listener.Addr().String())
	client, _, err := websocket.DefaultDialer.Dial(wsURL(front, "/ws"), nil)
	if err != nil {
		t.Fatalf("dialing relay: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello backend")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, echo, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("reading echo: %v", err)
	}
	if string(echo) != "hello backend" {
		t.Errorf("echo = %q, client->backend direction must pass messages unchanged", echo)
	}

	_, errorMessage, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("reading error message: %v", err)
	}
	if strings.Contains(string(errorMessage), "Invalid token") {
		t.Errorf("backend error %q reached the client unrewritten", errorMessage)
	}
	if !strings.Contains(string(errorMessage), "gateway URL") {
		t.Errorf("rewritten error %q lacks user guidance", errorMessage)
	}

	if *seenToken != "internal-gw-token" {
		t.Errorf("backend saw token %q, want the injected gateway token", *seenToken)
	}
}

func TestWebSocketRelayPropagatesSanitizedClose(t *testing.T) {
	backend, _ := wsBackend(t, func(conn *websocket.Conn) {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4321, "connection rejected: missing token query parameter"),
			deadline)
		// Wait for the peer's close response before dropping TCP.
		conn.SetReadDeadline(deadline)
		conn.ReadMessage()
	})

	front := relayServer(t, backend.Listener.Addr().String())
	client, _, err := websocket.DefaultDialer.Dial(wsURL(front, "/ws"), nil)
	if err != nil {
		t.Fatalf("dialing relay: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("read error = %v, want a close frame", err)
	}
	if closeErr.Code != 4321 {
		t.Errorf("close code = %d, application codes must pass through", closeErr.Code)
	}
	if strings.Contains(closeErr.Text, "token query parameter") {
		t.Errorf("close reason %q reached the client unrewritten", closeErr.Text)
	}
	if len(closeErr.Text) > maxCloseReasonLength {
		t.Errorf("close reason length %d exceeds the wire limit", len(closeErr.Text))
	}
}
