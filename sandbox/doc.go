// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox defines the abstract compute capability hosting one
// tenant's backend: a process table, process start/kill, a dialable
// network address, and an isolated filesystem for the encrypted stored
// credential. The underlying platform (container runtime, microVM
// fleet) lives behind the [Sandbox] and [Resolver] interfaces and is
// out of scope here.
//
// [Classifier] identifies the long-running backend service in a
// process table by command-string patterns. Allow and deny patterns
// are data, not logic: adding a new backend invocation alias is a
// pattern-list change. Deny patterns are evaluated first so a one-shot
// CLI invocation that shares a substring with the service invocation
// is never mistaken for the service.
//
// [Local] is an os/exec-backed implementation for development: one
// directory and one loopback port per tenant, no real isolation. It
// exists so the gateway runs end to end on a laptop; production
// deployments supply a platform-specific Resolver.
package sandbox
