// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/anteroom-project/anteroom/lib/clock"
)

func openStore(t *testing.T, fake *clock.FakeClock) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "activity.db"),
		Clock:  fake,
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordLoginAndLookup(t *testing.T) {
	fake := clock.Fake(time.Unix(1_000_000, 0))
	store := openStore(t, fake)
	ctx := context.Background()

	if err := store.RecordLogin(ctx, "tenant-aaa", "wxyz", "203.0.113.7"); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}

	record, err := store.Lookup(ctx, "tenant-aaa")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if record == nil {
		t.Fatal("Lookup returned nil for a tenant that just logged in")
	}
	if record.LoginCount != 1 {
		t.Errorf("LoginCount = %d, want 1", record.LoginCount)
	}
	if !record.FirstLogin.Equal(time.Unix(1_000_000, 0)) {
		t.Errorf("FirstLogin = %v", record.FirstLogin)
	}

	// A re-login advances last_login and the count, never first_login.
	fake.Advance(time.Hour)
	if err := store.RecordLogin(ctx, "tenant-aaa", "wxyz", "203.0.113.7"); err != nil {
		t.Fatalf("second RecordLogin: %v", err)
	}
	record, err = store.Lookup(ctx, "tenant-aaa")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if record.LoginCount != 2 {
		t.Errorf("LoginCount = %d, want 2", record.LoginCount)
	}
	if !record.FirstLogin.Equal(time.Unix(1_000_000, 0)) {
		t.Errorf("FirstLogin moved to %v", record.FirstLogin)
	}
	if !record.LastLogin.Equal(time.Unix(1_000_000, 0).Add(time.Hour)) {
		t.Errorf("LastLogin = %v", record.LastLogin)
	}
}

func TestLookupUnknownTenant(t *testing.T) {
	store := openStore(t, clock.Fake(time.Unix(1_000_000, 0)))
	record, err := store.Lookup(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if record != nil {
		t.Errorf("Lookup = %+v, want nil for unknown tenant", record)
	}
}

func TestTouchAndIdleQuery(t *testing.T) {
	fake := clock.Fake(time.Unix(1_000_000, 0))
	store := openStore(t, fake)
	ctx := context.Background()

	if err := store.RecordLogin(ctx, "tenant-idle", "aaaa", "192.0.2.1"); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if err := store.RecordLogin(ctx, "tenant-busy", "bbbb", "192.0.2.2"); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}

	fake.Advance(2 * time.Hour)
	if err := store.Touch(ctx, "tenant-busy"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	// Cutoff between the logins and the touch: only the untouched
	// tenant is idle.
	cutoff := time.Unix(1_000_000, 0).Add(time.Hour)
	idle, err := store.IdleSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("IdleSince: %v", err)
	}
	if len(idle) != 1 || idle[0].TenantHash != "tenant-idle" {
		t.Errorf("IdleSince = %+v, want only tenant-idle", idle)
	}
}

func TestTouchUnknownTenantIsNoop(t *testing.T) {
	store := openStore(t, clock.Fake(time.Unix(1_000_000, 0)))
	if err := store.Touch(context.Background(), "nobody"); err != nil {
		t.Errorf("Touch on unknown tenant: %v", err)
	}
}
