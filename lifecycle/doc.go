// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle ensures exactly one ready backend process per
// tenant sandbox, tolerating concurrent callers and transient
// partial-start states.
//
// The observed per-process state machine is
//
//	absent -> starting -> ready
//
// with a stuck -> killed -> starting recovery loop when a process
// occupies the table for a full startup window without ever listening.
//
// There is no per-tenant lock. Two concurrent EnsureRunning calls for
// the same tenant may race the underlying start primitive; the
// correctness property that prevents the losing racer from killing the
// winner's freshly started process is that readiness is always awaited
// for the full startup timeout, even for processes that were merely
// found rather than started. See [Controller.EnsureRunning].
package lifecycle
