// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/anteroom-project/anteroom/lib/clock"
)

func TestWindowBudget(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewMemory(Config{MaxAttempts: 10, Window: 5 * time.Minute, Clock: clk})

	for i := 1; i <= 10; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("attempt %d rejected, want first 10 allowed", i)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("11th attempt in window allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("12th attempt in window allowed")
	}
}

func TestWindowReset(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewMemory(Config{MaxAttempts: 3, Window: time.Minute, Clock: clk})

	for i := 0; i < 3; i++ {
		limiter.Allow("10.0.0.1")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("4th attempt allowed inside window")
	}

	clk.Advance(time.Minute + time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Error("attempt after window elapsed rejected")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewMemory(Config{MaxAttempts: 2, Window: time.Minute, Clock: clk})

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.1")
	if limiter.Allow("10.0.0.1") {
		t.Error("exhausted key still allowed")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Error("fresh key rejected because of another key's budget")
	}
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewMemory(Config{MaxAttempts: 1, Window: time.Minute, Clock: clk})

	for i := 0; i < 1500; i++ {
		limiter.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	clk.Advance(2 * time.Minute)
	limiter.Allow("fresh")

	limiter.mu.Lock()
	size := len(limiter.entries)
	limiter.mu.Unlock()
	if size > 2 {
		t.Errorf("map holds %d entries after sweep, want expired entries dropped", size)
	}
}
