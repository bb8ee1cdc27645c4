// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/anteroom-project/anteroom/lib/clock"
	"github.com/anteroom-project/anteroom/sandbox"
)

// DefaultStartupTimeout is the full window a backend gets to become
// reachable, whether it was just started or merely found in the
// process table.
const DefaultStartupTimeout = 60 * time.Second

// DefaultPollInterval is the pause between port probes while waiting
// for readiness.
const DefaultPollInterval = 500 * time.Millisecond

// probeTimeout bounds a single port probe dial.
const probeTimeout = time.Second

// ErrStartFailed means the backend could not be brought to a ready
// state: the spawn failed outright or the port never became reachable
// within the startup timeout. The wrapped cause carries the detail;
// callers surface a retry hint.
var ErrStartFailed = errors.New("lifecycle: backend failed to start")

// Config holds controller settings.
type Config struct {
	// Command is the backend service invocation.
	Command string

	// Port is the fixed internal port the backend listens on.
	Port int

	// BaseEnv is the environment every backend start gets. Per-request
	// overrides win over base values of the same name.
	BaseEnv map[string]string

	// Classifier identifies the service in a process table. Zero value
	// selects sandbox.DefaultClassifier.
	Classifier sandbox.Classifier

	// StartupTimeout and PollInterval default to the package
	// constants.
	StartupTimeout time.Duration
	PollInterval   time.Duration

	// Dial probes one address; nil selects a TCP dial with a short
	// per-probe timeout. Injected by tests.
	Dial func(ctx context.Context, addr string) error

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller provides idempotent ensure-running semantics for tenant
// backends. It holds no per-tenant state and takes no per-tenant
// locks: the sandbox process table is the only shared state, and the
// full-timeout readiness wait is what keeps concurrent callers from
// killing each other's freshly started processes.
type Controller struct {
	command        string
	port           int
	baseEnv        map[string]string
	classifier     sandbox.Classifier
	startupTimeout time.Duration
	pollInterval   time.Duration
	dial           func(ctx context.Context, addr string) error
	clock          clock.Clock
	logger         *slog.Logger
}

// NewController creates a Controller.
func NewController(config Config) (*Controller, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("lifecycle: command is required")
	}
	if config.Port == 0 {
		return nil, fmt.Errorf("lifecycle: port is required")
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = DefaultStartupTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if len(config.Classifier.Allow) == 0 {
		config.Classifier = sandbox.DefaultClassifier
	}
	if config.Dial == nil {
		config.Dial = dialTCP
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Controller{
		command:        config.Command,
		port:           config.Port,
		baseEnv:        config.BaseEnv,
		classifier:     config.Classifier,
		startupTimeout: config.StartupTimeout,
		pollInterval:   config.PollInterval,
		dial:           config.Dial,
		clock:          config.Clock,
		logger:         config.Logger,
	}, nil
}

func dialTCP(ctx context.Context, addr string) error {
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// FindExisting returns the live service process in the tenant's
// sandbox, or nil when none exists. One-shot CLI invocations of the
// backend binary and processes in terminal states are never returned.
func (c *Controller) FindExisting(ctx context.Context, sb sandbox.Sandbox) (*sandbox.ProcessInfo, error) {
	table, err := sb.ListProcesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: listing processes: %w", err)
	}
	return sandbox.FindService(table, c.classifier), nil
}

// EnsureRunning brings the tenant's backend to a ready (listening)
// state and returns its process reference.
//
// An existing process gets the FULL startup timeout to become
// reachable before it is declared stuck. Never shorten this wait for
// "found" processes: a process can sit in the table, running but not
// yet listening, because a concurrent caller only just started it.
// A shortened wait here kills that caller's process and produces a
// start/kill/restart storm under concurrent first-requests.
//
// Overrides win over base environment values of the same name.
func (c *Controller) EnsureRunning(ctx context.Context, sb sandbox.Sandbox, overrides map[string]string) (*sandbox.ProcessInfo, error) {
	logger := c.logger.With("tenant", sb.Tenant())

	existing, err := c.FindExisting(ctx, sb)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Debug("found existing backend process", "id", existing.ID, "status", existing.Status)
		if err := c.waitReady(ctx, sb); err == nil {
			return existing, nil
		}
		// The process existed for the whole startup window without
		// listening: stuck. Kill it and start fresh.
		logger.Warn("existing backend never became reachable, replacing it", "id", existing.ID)
		if err := sb.KillProcess(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("%w: killing stuck process: %v", ErrStartFailed, err)
		}
	}

	env := MergeEnv(c.baseEnv, overrides)
	process, err := sb.StartProcess(ctx, c.command, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	logger.Info("started backend process", "id", process.ID)

	if err := c.waitReady(ctx, sb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	return process, nil
}

// Probe reports whether the backend port accepts a connection right
// now. A single probe, no waiting — used to decide between serving an
// interstitial page and forwarding directly.
func (c *Controller) Probe(ctx context.Context, sb sandbox.Sandbox) bool {
	addr, err := sb.Addr(c.port)
	if err != nil {
		return false
	}
	return c.dial(ctx, addr) == nil
}

// waitReady polls the backend port until it accepts a connection or
// the full startup timeout elapses. Always bounded: this function is
// why EnsureRunning can never hang indefinitely.
func (c *Controller) waitReady(ctx context.Context, sb sandbox.Sandbox) error {
	addr, err := sb.Addr(c.port)
	if err != nil {
		return fmt.Errorf("resolving backend address: %w", err)
	}

	deadline := c.clock.Now().Add(c.startupTimeout)
	var lastErr error
	for {
		if err := c.dial(ctx, addr); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.clock.Now().Before(deadline) {
			return fmt.Errorf("port %d not reachable within %v: %v", c.port, c.startupTimeout, lastErr)
		}
		c.clock.Sleep(c.pollInterval)
	}
}

// MergeEnv merges override values over a base environment with
// overwrite-wins semantics. Neither input map is modified.
func MergeEnv(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range overrides {
		merged[key] = value
	}
	return merged
}
