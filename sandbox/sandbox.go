// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"time"
)

// Status is the observed state of a process inside a sandbox.
type Status string

const (
	// StatusStarting means the process has been created but has not
	// reported running yet. It may or may not be listening.
	StatusStarting Status = "starting"

	// StatusRunning means the process is alive. Running does not imply
	// listening: a process can sit in the table for its whole
	// initialization window before it binds its port.
	StatusRunning Status = "running"

	// StatusCompleted means the process exited with success.
	StatusCompleted Status = "completed"

	// StatusFailed means the process exited with an error.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is an exit state. Terminal
// processes never count as an existing service instance.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProcessInfo describes one entry in a sandbox's process table.
type ProcessInfo struct {
	// ID identifies the process for kill operations.
	ID string

	// Command is the full command string the process was started with.
	Command string

	// Status is the observed process state.
	Status Status

	// CreatedAt is when the process was started, when the platform
	// reports it.
	CreatedAt time.Time
}

// Sandbox is one tenant's isolated compute unit.
type Sandbox interface {
	// Tenant returns the tenant identity hash this sandbox belongs to.
	Tenant() string

	// ListProcesses returns the current process table.
	ListProcesses(ctx context.Context) ([]ProcessInfo, error)

	// StartProcess starts a process with the given command string and
	// environment. Platforms enforce at most one live instance of a
	// given command per sandbox: starting a command while a live
	// process with the same command string exists returns that process
	// instead of creating a second one. The gateway relies on this for
	// concurrent cold starts of the same tenant.
	StartProcess(ctx context.Context, command string, env map[string]string) (*ProcessInfo, error)

	// KillProcess terminates the process with the given ID. Killing an
	// already-dead process is not an error.
	KillProcess(ctx context.Context, id string) error

	// Addr returns a dialable host:port for the given port inside the
	// sandbox.
	Addr(port int) (string, error)

	// ReadFile reads a file from the sandbox filesystem.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes a file to the sandbox filesystem, creating
	// parent directories as needed.
	WriteFile(ctx context.Context, path string, data []byte) error
}

// Resolver maps a tenant identity hash to that tenant's sandbox,
// creating it on first use. Resolving the same tenant twice returns
// the same underlying sandbox — the platform, not the gateway,
// enforces the one-sandbox-per-tenant relationship.
type Resolver interface {
	Resolve(ctx context.Context, tenant string) (Sandbox, error)
}

// CredentialPath is the well-known location of the encrypted stored
// credential inside a tenant's sandbox filesystem. Namespacing is
// implicit: each tenant has its own filesystem.
const CredentialPath = "/data/.anteroom/credential.enc"
