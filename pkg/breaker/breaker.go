// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker provides circuit breakers guarding upstream dials.
//
// A breaker never retries. It only turns repeated dial failures to the same
// upstream into immediate failures until ResetTimeout elapses, after which a
// probe dial is let through.
package breaker

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// ResetTimeout is how long to wait in Open state before transitioning to HalfOpen.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes in HalfOpen before closing.
	SuccessThreshold int
}

// StateChangeFunc is notified when the breaker for name changes state.
// Notifications for one breaker are delivered in order, on the goroutine that
// caused the change, after the breaker's lock is released. fn must not call
// back into the same breaker.
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker implements the circuit breaker pattern for one upstream.
type CircuitBreaker struct {
	mu              sync.Mutex
	notifyMu        sync.Mutex
	name            string
	config          Config
	state           State
	failures        int
	successes       int
	probing         bool
	lastStateChange time.Time
	onStateChange   StateChangeFunc
	now             func() time.Time
}

// transition is a state change waiting to be reported.
type transition struct {
	from, to State
	fn       StateChangeFunc
}

// New creates a new circuit breaker.
func New(name string, config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Call executes fn if the circuit breaker allows it and records the outcome.
// While half-open only one call at a time is let through; the others fail
// with ErrCircuitOpen.
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn()

	cb.record(err, probe)
	return err
}

// allow reports whether a call may proceed and whether it is the half-open probe.
func (cb *CircuitBreaker) allow() (bool, error) {
	cb.mu.Lock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.config.ResetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		t := cb.setState(StateHalfOpen)
		cb.probing = true
		cb.unlockAndNotify(t)
		return true, nil
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.probing = true
		cb.mu.Unlock()
		return true, nil
	default:
		cb.mu.Unlock()
		return false, nil
	}
}

func (cb *CircuitBreaker) record(err error, probe bool) {
	cb.mu.Lock()

	if probe {
		cb.probing = false
	}

	var t *transition
	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
			t = cb.setState(StateOpen)
		}
		cb.unlockAndNotify(t)
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			t = cb.setState(StateClosed)
		}
	}
	cb.unlockAndNotify(t)
}

// setState changes state under cb.mu and returns the change to report, if any.
func (cb *CircuitBreaker) setState(newState State) *transition {
	if cb.state == newState {
		return nil
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.probing = false
	case StateHalfOpen:
		cb.successes = 0
	case StateOpen:
		cb.probing = false
	}

	if cb.onStateChange == nil {
		return nil
	}
	return &transition{from: oldState, to: newState, fn: cb.onStateChange}
}

// unlockAndNotify releases cb.mu and reports t. notifyMu is taken before cb.mu
// is released, so reports leave in the order the changes were made.
func (cb *CircuitBreaker) unlockAndNotify(t *transition) {
	if t == nil {
		cb.mu.Unlock()
		return
	}
	cb.notifyMu.Lock()
	cb.mu.Unlock()
	defer cb.notifyMu.Unlock()
	t.fn(cb.name, t.from, t.to)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Set holds one breaker per upstream address, created on first use.
type Set struct {
	mu            sync.Mutex
	config        Config
	breakers      map[string]*CircuitBreaker
	onStateChange StateChangeFunc
}

// NewSet creates an empty breaker set sharing config.
func NewSet(config Config) *Set {
	return &Set{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// OnStateChange registers a callback for state changes of any breaker in the set.
func (s *Set) OnStateChange(fn StateChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
	for _, cb := range s.breakers {
		cb.mu.Lock()
		cb.onStateChange = fn
		cb.mu.Unlock()
	}
}

// Get returns the breaker for name, creating it if needed.
func (s *Set) Get(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[name]
	if !ok {
		cb = New(name, s.config)
		cb.onStateChange = s.onStateChange
		s.breakers[name] = cb
	}
	return cb
}

// Call runs fn through the breaker for name.
func (s *Set) Call(name string, fn func() error) error {
	return s.Get(name).Call(fn)
}

// States returns a snapshot of every breaker's state.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	cbs := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(cbs))
	for _, cb := range cbs {
		out[cb.name] = cb.State()
	}
	return out
}
