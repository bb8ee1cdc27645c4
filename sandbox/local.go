// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Local is a development Resolver that hosts each tenant's "sandbox"
// as a directory and a loopback port on the gateway machine. There is
// no real isolation; this exists so the full login/proxy/lifecycle
// path runs without a compute platform.
type Local struct {
	root     string
	basePort int
	logger   *slog.Logger

	mu      sync.Mutex
	tenants map[string]*LocalSandbox
}

// NewLocal creates a Local resolver. Tenant data lives under
// root/<tenant>; tenant backends listen on basePort, basePort+1, ...
// in resolution order.
func NewLocal(root string, basePort int, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		root:     root,
		basePort: basePort,
		logger:   logger,
		tenants:  make(map[string]*LocalSandbox),
	}
}

// Resolve returns the tenant's sandbox, creating its directory on
// first use.
func (l *Local) Resolve(ctx context.Context, tenant string) (Sandbox, error) {
	if tenant == "" {
		return nil, fmt.Errorf("sandbox: empty tenant")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if sb, ok := l.tenants[tenant]; ok {
		return sb, nil
	}

	dir := filepath.Join(l.root, tenant)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sandbox: creating tenant directory: %w", err)
	}

	sb := &LocalSandbox{
		tenant:    tenant,
		dir:       dir,
		port:      l.basePort + len(l.tenants),
		logger:    l.logger.With("tenant", tenant),
		processes: make(map[string]*localProcess),
	}
	l.tenants[tenant] = sb
	return sb, nil
}

// LocalSandbox is one tenant's slice of the local machine.
type LocalSandbox struct {
	tenant string
	dir    string
	port   int
	logger *slog.Logger

	mu        sync.Mutex
	processes map[string]*localProcess
	nextID    int
}

type localProcess struct {
	info ProcessInfo
	cmd  *exec.Cmd
}

// Tenant returns the tenant identity hash.
func (s *LocalSandbox) Tenant() string { return s.tenant }

// ListProcesses returns a snapshot of the tenant's process table.
func (s *LocalSandbox) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := make([]ProcessInfo, 0, len(s.processes))
	for _, p := range s.processes {
		table = append(table, p.info)
	}
	return table, nil
}

// StartProcess starts a command on the local machine. The command
// string is split on whitespace — quoting is not supported in the
// development resolver. Local processes inherit the gateway's own
// environment underneath the provided one: backend binaries still
// need PATH, and isolation is not a goal here. PORT is set to the
// sandbox's allotted loopback port.
func (s *LocalSandbox) StartProcess(ctx context.Context, command string, env map[string]string) (*ProcessInfo, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("sandbox: empty command")
	}

	// The lock covers the whole start so the one-live-instance check
	// and the registration are atomic.
	s.mu.Lock()
	defer s.mu.Unlock()

	// One live instance per command string, matching the platform
	// contract concurrent cold starts depend on.
	for _, existing := range s.processes {
		if existing.info.Command == command && !existing.info.Status.Terminal() {
			info := existing.info
			return &info, nil
		}
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Dir = s.dir
	cmd.Env = os.Environ()
	for key, value := range env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	cmd.Env = append(cmd.Env, "PORT="+strconv.Itoa(s.port))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: starting %q: %w", fields[0], err)
	}

	s.nextID++
	id := "local-" + strconv.Itoa(s.nextID)
	process := &localProcess{
		info: ProcessInfo{
			ID:        id,
			Command:   command,
			Status:    StatusRunning,
			CreatedAt: time.Now(),
		},
		cmd: cmd,
	}
	s.processes[id] = process

	s.logger.Info("started local backend process", "id", id, "command", command)

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			process.info.Status = StatusFailed
			s.logger.Warn("local backend process exited", "id", id, "error", err)
		} else {
			process.info.Status = StatusCompleted
			s.logger.Info("local backend process exited", "id", id)
		}
	}()

	info := process.info
	return &info, nil
}

// KillProcess terminates a local process. Unknown or already-exited
// IDs are not an error.
func (s *LocalSandbox) KillProcess(ctx context.Context, id string) error {
	s.mu.Lock()
	process, ok := s.processes[id]
	s.mu.Unlock()
	if !ok || process.info.Status.Terminal() {
		return nil
	}
	if err := process.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("sandbox: killing process %s: %w", id, err)
	}
	return nil
}

// Addr maps any requested internal port to the sandbox's allotted
// loopback port. Local sandboxes have no network namespace; the
// backend is told its real port via the PORT environment variable.
func (s *LocalSandbox) Addr(port int) (string, error) {
	return "127.0.0.1:" + strconv.Itoa(s.port), nil
}

// ReadFile reads from the tenant's directory. Paths are interpreted
// relative to the sandbox root regardless of a leading slash.
func (s *LocalSandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// WriteFile writes into the tenant's directory, creating parents.
func (s *LocalSandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	full, err := s.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("sandbox: creating parent directory: %w", err)
	}
	return os.WriteFile(full, data, 0o600)
}

// resolvePath confines a sandbox-relative path to the tenant
// directory.
func (s *LocalSandbox) resolvePath(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("sandbox: invalid path %q", path)
	}
	return filepath.Join(s.dir, cleaned), nil
}
