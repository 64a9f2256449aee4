// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"time"
)

// State is the stage a proxied connection has reached.
type State int

const (
	// Accepted means the connection was accepted and nothing has been read yet.
	Accepted State = iota
	// HeadParsed means the request line and headers were read.
	HeadParsed
	// Routed means the Host header matched a route.
	Routed
	// Forwarding means the upstream was dialed and the head written to it.
	Forwarding
	// Closed means the connection is done, successfully or not.
	Closed
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case HeadParsed:
		return "head_parsed"
	case Routed:
		return "routed"
	case Forwarding:
		return "forwarding"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Context contains connection metadata collected while a connection moves
// through the proxy. It is passed to Handler methods and is owned by the
// goroutine serving the connection.
type Context struct {
	// SessionID is a unique identifier for this connection
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// AcceptedAt is when the connection was accepted.
	AcceptedAt time.Time

	// Method, Path and Version come from the request line.
	Method  string
	Path    string
	Version string

	// Domain is the trimmed Host header value, if one was present.
	Domain string

	// Upstream is the host:port the request is forwarded to.
	Upstream string

	// State is the last stage the connection reached.
	State State

	// BytesRelayed counts response bytes written back to the client.
	BytesRelayed int64

	// DialDuration is how long the upstream dial took.
	DialDuration time.Duration
}

// Handler defines lifecycle callbacks for proxied connections.
//
// OnConnect and OnRoute are called before work is done on the client's
// behalf and can veto it by returning an error. OnDisconnect is a
// notification; its error is logged and otherwise ignored.
type Handler interface {
	// OnConnect is called right after a connection is accepted.
	// Return an error to drop the connection without reading from it.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnRoute is called once the Host header matched a route and before the
	// upstream is dialed. Return an error to close the connection instead.
	OnRoute(ctx context.Context, hctx *Context) error

	// OnDisconnect is called when the connection is closed. err is the
	// reason the connection ended, nil on a completed relay.
	OnDisconnect(ctx context.Context, hctx *Context, err error) error
}

// NoopHandler is a Handler implementation that allows every connection.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnRoute(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context, err error) error {
	return nil
}
