// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	perrors "github.com/absmach/vproxy/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucket(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	tb := newTokenBucket(3, 2, clock.Now)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("Expected request %d to be allowed", i)
		}
	}
	if tb.Allow() {
		t.Error("Expected bucket to be empty")
	}

	clock.Advance(250 * time.Millisecond)
	if tb.Allow() {
		t.Error("Expected half a token not to be enough")
	}

	clock.Advance(250 * time.Millisecond)
	if !tb.Allow() {
		t.Error("Expected fractional refills to accumulate into a token")
	}

	clock.Advance(time.Hour)
	if got := tb.Available(); got != 3 {
		t.Errorf("Expected refill capped at capacity 3, got %d", got)
	}
}

func TestTokenBucket_AllowN(t *testing.T) {
	tb := NewTokenBucket(10, 0)

	if !tb.AllowN(7) {
		t.Fatal("Expected AllowN(7) to be allowed")
	}
	if tb.AllowN(4) {
		t.Error("Expected AllowN(4) to be rejected with 3 tokens left")
	}
	if got := tb.Available(); got != 3 {
		t.Errorf("Expected 3 tokens left, got %d", got)
	}
}

func TestLimiter_PerClient(t *testing.T) {
	l := NewLimiter(2, 0, 10)
	defer l.Close()

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("Expected first two connections to be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("Expected third connection from same client to be rejected")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("Expected other client to have its own bucket")
	}
	if got := l.Stats(); got != 2 {
		t.Errorf("Expected 2 tracked clients, got %d", got)
	}

	l.Remove("10.0.0.1")
	if !l.Allow("10.0.0.1") {
		t.Error("Expected removed client to start with a full bucket")
	}
}

func TestLimiter_MaxClients(t *testing.T) {
	l := NewLimiter(5, 1, 2)
	defer l.Close()

	l.Allow("a")
	l.Allow("b")
	if l.Allow("c") {
		t.Error("Expected new client beyond maxClients to be rejected")
	}
	if !l.Allow("a") {
		t.Error("Expected tracked client to still be allowed")
	}
}

func TestLimiter_CleanupForgetsIdleClients(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := NewLimiter(2, 1, 10)
	defer l.Close()
	l.now = clock.Now

	l.Allow("idle")
	l.Allow("busy")
	l.Allow("busy")

	clock.Advance(time.Second)
	l.cleanup()

	l.mu.RLock()
	_, idleKept := l.limiters["idle"]
	_, busyKept := l.limiters["busy"]
	l.mu.RUnlock()

	if idleKept {
		t.Error("Expected refilled client to be forgotten")
	}
	if !busyKept {
		t.Error("Expected client with a partially drained bucket to be kept")
	}
}

func TestClientKey(t *testing.T) {
	tests := map[string]string{
		"192.168.1.5:53122": "192.168.1.5",
		"[::1]:8080":        "::1",
		"not-an-addr":       "not-an-addr",
	}
	for in, want := range tests {
		if got := ClientKey(in); got != want {
			t.Errorf("ClientKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestErrRateLimitExceeded(t *testing.T) {
	if !errors.Is(ErrRateLimitExceeded, perrors.ErrRateLimited) {
		t.Error("Expected ErrRateLimitExceeded to match ErrRateLimited")
	}
}
