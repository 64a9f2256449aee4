// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error kinds reported by vproxy.
//
// Startup kinds (ErrConfigInvalid, ErrListenBindFailed) abort the process.
// Every other kind is scoped to a single client connection.
package errors

import (
	"errors"
	"fmt"
)

// Startup errors.
var (
	// ErrConfigInvalid indicates a malformed routes file or configuration value.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrListenBindFailed indicates the listening address could not be bound.
	ErrListenBindFailed = errors.New("listen bind failed")

	// ErrDuplicateDomain indicates two routes share a domain.
	ErrDuplicateDomain = errors.New("duplicate domain")

	// ErrDuplicatePort indicates two routes share an upstream port.
	ErrDuplicatePort = errors.New("duplicate upstream port")

	// ErrInvalidRoute indicates a route with an empty field or a zero port.
	ErrInvalidRoute = errors.New("invalid route")
)

// Per-connection errors.
var (
	// ErrConnectionClosed indicates the client closed before sending anything.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrConnectionReadFailed indicates the request head could not be read.
	ErrConnectionReadFailed = errors.New("connection read failed")

	// ErrHeaderMissing indicates the request carried no Host header.
	ErrHeaderMissing = errors.New("host header missing")

	// ErrNoRoute indicates the Host value matched no route.
	ErrNoRoute = errors.New("no route")

	// ErrUpstreamUnreachable indicates the upstream could not be dialed.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrUpstreamWriteFailed indicates the request head could not be written upstream.
	ErrUpstreamWriteFailed = errors.New("upstream write failed")

	// ErrForwardInterrupted indicates the response relay stopped before upstream EOF.
	ErrForwardInterrupted = errors.New("forward interrupted")

	// ErrSizeLimitExceeded indicates the request head exceeded the configured limit.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")

	// ErrRateLimited indicates the client exceeded its connection rate.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// kinds is ordered so that the most specific kind is reported first.
var kinds = []struct {
	err   error
	label string
}{
	{ErrConnectionClosed, "connection_closed"},
	{ErrConnectionReadFailed, "connection_read_failed"},
	{ErrHeaderMissing, "header_missing"},
	{ErrNoRoute, "no_route"},
	{ErrUpstreamUnreachable, "upstream_unreachable"},
	{ErrUpstreamWriteFailed, "upstream_write_failed"},
	{ErrForwardInterrupted, "forward_interrupted"},
	{ErrRateLimited, "rate_limited"},
	{ErrListenBindFailed, "listen_bind_failed"},
	{ErrConfigInvalid, "config_invalid"},
}

// Kind returns a stable label for err, suitable for metrics and logs.
// A nil error is "completed"; an error of no known kind is "unknown".
func Kind(err error) string {
	if err == nil {
		return "completed"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "unknown"
}

// ProxyError wraps a per-connection error with additional context.
type ProxyError struct {
	Op         string // Operation that failed
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError.
func New(op, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:         op,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap tags cause with kind. Both remain visible to errors.Is.
// A nil cause yields kind itself.
func Wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
