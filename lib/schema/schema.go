// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema holds the wire types shared across Anteroom
// components: the capability representation returned by the identity
// validator, embedded in session claims, and serialized to clients.
package schema

// Model is one model capability available to a tenant, as reported by
// the upstream identity validator.
type Model struct {
	// ID is the upstream model identifier (e.g. "claude-sonnet-4-5").
	ID string `json:"id"`

	// Name is the human-readable display name. Falls back to ID when
	// the upstream listing carries no display name.
	Name string `json:"name"`
}
