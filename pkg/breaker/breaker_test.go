// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errDial = errors.New("connection refused")

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

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New("127.0.0.1:9000", cfg)
	cb.now = clock.Now
	cb.lastStateChange = clock.Now()
	return cb, clock
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{MaxFailures: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return errDial }); !errors.Is(err, errDial) {
			t.Fatalf("Call %d: expected dial error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.State())
	}

	called := false
	err := cb.Call(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to be called while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{MaxFailures: 2})

	_ = cb.Call(func() error { return errDial })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errDial })

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: 10 * time.Second, SuccessThreshold: 2})

	_ = cb.Call(func() error { return errDial })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.State())
	}

	clock.Advance(10 * time.Second)
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Expected probe to pass, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open state, got %s", cb.State())
	}

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed state after threshold, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})

	_ = cb.Call(func() error { return errDial })
	clock.Advance(time.Second)
	_ = cb.Call(func() error { return errDial })

	if cb.State() != StateOpen {
		t.Errorf("Expected open state, got %s", cb.State())
	}
	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen right after reopening, got %v", err)
	}
}

func TestCircuitBreaker_SingleHalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})

	_ = cb.Call(func() error { return errDial })
	clock.Advance(time.Second)

	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Call(func() error {
				mu.Lock()
				admitted++
				mu.Unlock()
				return nil
			})
			if !errors.Is(err, ErrCircuitOpen) {
				t.Errorf("Expected ErrCircuitOpen while the probe is in flight, got %v", err)
			}
		}()
	}
	wg.Wait()
	if admitted != 0 {
		t.Errorf("Expected only the probe to run, %d more calls ran", admitted)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed state after a successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_StateChangesInOrder(t *testing.T) {
	cb, clock := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})

	var got []string
	cb.onStateChange = func(name string, from, to State) {
		got = append(got, from.String()+"->"+to.String())
	}

	_ = cb.Call(func() error { return errDial })
	clock.Advance(time.Second)
	_ = cb.Call(func() error { return errDial })
	clock.Advance(time.Second)
	_ = cb.Call(func() error { return nil })

	want := []string{
		"closed->open",
		"open->half_open",
		"half_open->open",
		"open->half_open",
		"half_open->closed",
	}
	if len(got) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSet(t *testing.T) {
	s := NewSet(Config{MaxFailures: 1, ResetTimeout: time.Minute})

	changes := make(chan string, 4)
	s.OnStateChange(func(name string, from, to State) {
		changes <- name + ":" + from.String() + "->" + to.String()
	})

	_ = s.Call("a:1", func() error { return errDial })

	if err := s.Call("b:2", func() error { return nil }); err != nil {
		t.Errorf("Expected independent breaker for b:2, got %v", err)
	}
	if err := s.Call("a:1", func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected a:1 to be open, got %v", err)
	}

	states := s.States()
	if states["a:1"] != StateOpen || states["b:2"] != StateClosed {
		t.Errorf("Unexpected states %v", states)
	}

	select {
	case c := <-changes:
		if c != "a:1:closed->open" {
			t.Errorf("Unexpected state change %s", c)
		}
	default:
		t.Error("Expected state change to be reported before Call returns")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateHalfOpen: "half_open",
		StateOpen:     "open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", s, s.String(), want)
		}
	}
}
