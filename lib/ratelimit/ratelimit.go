// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles login attempts per client address. The
// limiter is an injected interface so the in-memory implementation can
// be swapped for a distributed store without touching call sites.
//
// The in-memory limiter is a best-effort abuse deterrent, not a
// security boundary: counters are process-local and reset on restart.
package ratelimit

import (
	"sync"
	"time"

	"github.com/anteroom-project/anteroom/lib/clock"
)

// Limiter decides whether another attempt from the given key is
// allowed right now, incrementing the counter as a side effect.
type Limiter interface {
	Allow(key string) bool
}

// Config holds fixed-window limiter settings.
type Config struct {
	// MaxAttempts is the number of attempts permitted per window.
	MaxAttempts int

	// Window is the fixed window length. The counter for a key resets
	// when its window elapses; there is no sliding behavior.
	Window time.Duration

	// Clock defaults to the real clock.
	Clock clock.Clock
}

// Memory is the in-memory fixed-window Limiter.
type Memory struct {
	maxAttempts int
	window      time.Duration
	clock       clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	count int
	reset time.Time
}

// NewMemory creates an in-memory limiter. Zero values get defaults:
// 10 attempts per 5 minutes.
func NewMemory(config Config) *Memory {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	if config.Window <= 0 {
		config.Window = 5 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Memory{
		maxAttempts: config.MaxAttempts,
		window:      config.Window,
		clock:       config.Clock,
		entries:     make(map[string]*entry),
	}
}

// Allow records an attempt for key and reports whether it is within
// the window budget. The first MaxAttempts attempts in a window return
// true; further attempts return false until the window elapses.
func (m *Memory) Allow(key string) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !now.Before(e.reset) {
		m.entries[key] = &entry{count: 1, reset: now.Add(m.window)}
		m.sweepLocked(now)
		return true
	}
	e.count++
	return e.count <= m.maxAttempts
}

// sweepLocked drops expired entries so the map does not grow without
// bound under address churn. Called opportunistically while the lock
// is already held; the map stays small (one entry per recently active
// address) so a full scan is cheap.
func (m *Memory) sweepLocked(now time.Time) {
	if len(m.entries) < 1024 {
		return
	}
	for key, e := range m.entries {
		if !now.Before(e.reset) {
			delete(m.entries, key)
		}
	}
}
