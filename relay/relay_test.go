// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anteroom-project/anteroom/lib/credstore"
	"github.com/anteroom-project/anteroom/lifecycle"
	"github.com/anteroom-project/anteroom/sandbox"
)

// fakeSandbox hosts a fake process table, an in-memory filesystem,
// and a dialable address (usually an httptest server).
type fakeSandbox struct {
	mu     sync.Mutex
	tenant string
	addr   string
	table  []sandbox.ProcessInfo
	files  map[string][]byte
	starts int
}

func newFakeSandbox(tenant, addr string, running bool) *fakeSandbox {
	f := &fakeSandbox{tenant: tenant, addr: addr, files: make(map[string][]byte)}
	if running {
		f.table = []sandbox.ProcessInfo{
			{ID: "svc", Command: "anteroom-backend serve --port 3001", Status: sandbox.StatusRunning},
		}
	}
	return f
}

func (f *fakeSandbox) Tenant() string { return f.tenant }

func (f *fakeSandbox) ListProcesses(ctx context.Context) ([]sandbox.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sandbox.ProcessInfo(nil), f.table...), nil
}

func (f *fakeSandbox) StartProcess(ctx context.Context, command string, env map[string]string) (*sandbox.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	info := sandbox.ProcessInfo{ID: "svc", Command: command, Status: sandbox.StatusRunning}
	f.table = []sandbox.ProcessInfo{info}
	return &info, nil
}

func (f *fakeSandbox) KillProcess(ctx context.Context, id string) error { return nil }

func (f *fakeSandbox) Addr(port int) (string, error) { return f.addr, nil }

func (f *fakeSandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (f *fakeSandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func testRelay(t *testing.T, timeout time.Duration) *Relay {
	t.Helper()
	controller, err := lifecycle.NewController(lifecycle.Config{
		Command:        "anteroom-backend serve --port 3001",
		Port:           3001,
		StartupTimeout: timeout,
		PollInterval:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	rl, err := New(Config{
		Controller:       controller,
		Port:             3001,
		GatewayToken:     "internal-gw-token",
		EncryptionSecret: "test-encryption-secret",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rl
}

func TestForwardInjectsGatewayToken(t *testing.T) {
	var gotToken, gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		gotPath = r.URL.Path
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("backend says hi"))
	}))
	defer backend.Close()

	sb := newFakeSandbox("tenant-a", backend.Listener.Addr().String(), true)
	rl := testRelay(t, time.Second)

	request := httptest.NewRequest("GET", "/api/chat?q=1", nil)
	recorder := httptest.NewRecorder()
	rl.Forward(recorder, request, sb)

	if gotToken != "internal-gw-token" {
		t.Errorf("backend saw token %q, want injected gateway token", gotToken)
	}
	if gotPath != "/api/chat" {
		t.Errorf("backend saw path %q", gotPath)
	}
	if recorder.Code != http.StatusTeapot {
		t.Errorf("status = %d, want backend's 418 copied through", recorder.Code)
	}
	if recorder.Header().Get("X-Backend") != "yes" {
		t.Error("backend response header not copied")
	}
	if body := recorder.Body.String(); body != "backend says hi" {
		t.Errorf("body = %q", body)
	}
}

func TestForwardKeepsClientSuppliedToken(t *testing.T) {
	var gotToken string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
	}))
	defer backend.Close()

	sb := newFakeSandbox("tenant-a", backend.Listener.Addr().String(), true)
	rl := testRelay(t, time.Second)

	request := httptest.NewRequest("GET", "/api/chat?token=client-token", nil)
	rl.Forward(httptest.NewRecorder(), request, sb)

	if gotToken != "client-token" {
		t.Errorf("backend saw token %q, want the client's own token preserved", gotToken)
	}
}

func TestForwardInjectsStoredCredentialIntoStartEnv(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	// Cold sandbox: empty process table. The backend address is
	// reachable, so EnsureRunning's readiness wait succeeds right
	// after the start.
	sb := newFakeSandbox("tenant-a", backend.Listener.Addr().String(), false)
	if err := credstore.Store(context.Background(), sb, "sk-ant-api03-wxyz", "test-encryption-secret"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	var capturedEnv map[string]string
	wrapped := &envCapturingSandbox{fakeSandbox: sb, captured: &capturedEnv}

	rl := testRelay(t, time.Second)

	request := httptest.NewRequest("POST", "/api/chat", strings.NewReader("{}"))
	rl.Forward(httptest.NewRecorder(), request, wrapped)

	if capturedEnv["ANTHROPIC_API_KEY"] != "sk-ant-api03-wxyz" {
		t.Errorf("start env ANTHROPIC_API_KEY = %q, want decrypted stored credential", capturedEnv["ANTHROPIC_API_KEY"])
	}
	if capturedEnv["ANTEROOM_STORAGE_PREFIX"] != "tenant-a" {
		t.Errorf("start env ANTEROOM_STORAGE_PREFIX = %q, want tenant hash", capturedEnv["ANTEROOM_STORAGE_PREFIX"])
	}
}

type envCapturingSandbox struct {
	*fakeSandbox
	captured *map[string]string
}

func (e *envCapturingSandbox) StartProcess(ctx context.Context, command string, env map[string]string) (*sandbox.ProcessInfo, error) {
	*e.captured = env
	return e.fakeSandbox.StartProcess(ctx, command, env)
}

func TestColdPageLoadGetsInterstitial(t *testing.T) {
	// Address nobody listens on: the probe fails, so an HTML request
	// must get the interstitial immediately instead of blocking on
	// the cold start.
	sb := newFakeSandbox("tenant-a", "127.0.0.1:1", false)
	rl := testRelay(t, 50*time.Millisecond)

	request := httptest.NewRequest("GET", "/", nil)
	request.Header.Set("Accept", "text/html,application/xhtml+xml")
	recorder := httptest.NewRecorder()

	begin := time.Now()
	rl.Forward(recorder, request, sb)
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("interstitial path took %v, want an immediate response", elapsed)
	}

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 interstitial", recorder.Code)
	}
	body, _ := io.ReadAll(recorder.Body)
	if !strings.Contains(string(body), "starting up") {
		t.Errorf("body does not look like the interstitial page: %q", body)
	}

	// The detached start fires even though this request already
	// completed.
	deadline := time.After(2 * time.Second)
	for {
		sb.mu.Lock()
		starts := sb.starts
		sb.mu.Unlock()
		if starts > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background start never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAPIRequestGets503OnStartFailure(t *testing.T) {
	sb := newFakeSandbox("tenant-a", "127.0.0.1:1", false)
	rl := testRelay(t, 50*time.Millisecond)

	request := httptest.NewRequest("POST", "/api/chat", strings.NewReader("{}"))
	request.Header.Set("Accept", "application/json")
	recorder := httptest.NewRecorder()
	rl.Forward(recorder, request, sb)

	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "retry") {
		t.Errorf("body %q carries no retry hint", recorder.Body.String())
	}
}
