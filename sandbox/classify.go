// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "strings"

// Classifier identifies the long-running backend service among a
// sandbox's processes by substring patterns on the command string.
// Deny patterns override allow patterns: a command matching any deny
// pattern is never the service, even if it also matches an allow
// pattern. This keeps one-shot CLI invocations that share a substring
// with the service invocation from being classified as the service.
type Classifier struct {
	// Allow patterns mark a command as the service.
	Allow []string

	// Deny patterns exclude a command, evaluated before Allow.
	Deny []string
}

// DefaultClassifier matches the stock backend invocation. The backend
// binary doubles as a CLI (`anteroom-backend backup`, `... restore`,
// `... doctor`); only the `serve` form is the service.
var DefaultClassifier = Classifier{
	Allow: []string{"anteroom-backend serve"},
	Deny: []string{
		"anteroom-backend backup",
		"anteroom-backend restore",
		"anteroom-backend doctor",
	},
}

// Matches reports whether the command string is the service
// invocation.
func (c Classifier) Matches(command string) bool {
	for _, pattern := range c.Deny {
		if strings.Contains(command, pattern) {
			return false
		}
	}
	for _, pattern := range c.Allow {
		if strings.Contains(command, pattern) {
			return true
		}
	}
	return false
}

// FindService returns the first live process classified as the
// service, or nil. Processes in a terminal state never count: a
// completed or failed service run is not an existing instance.
func FindService(processes []ProcessInfo, classifier Classifier) *ProcessInfo {
	for i := range processes {
		p := &processes[i]
		if p.Status.Terminal() {
			continue
		}
		if classifier.Matches(p.Command) {
			return p
		}
	}
	return nil
}
