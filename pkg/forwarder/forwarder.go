// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package forwarder dials an upstream, replays a request head to it, and
// relays the raw response bytes back to the client.
//
// The relay is not HTTP-aware: response framing (Content-Length, chunked) is
// passed through unexamined and the relay ends when the upstream closes.
// Nothing is ever retried.
package forwarder

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/absmach/vproxy/pkg/breaker"
	perrors "github.com/absmach/vproxy/pkg/errors"
)

const defaultBufferSize = 4096

// Config holds forwarder configuration.
type Config struct {
	// DialTimeout bounds connection establishment to the upstream.
	DialTimeout time.Duration

	// IdleTimeout bounds each read from the upstream while relaying. 0 disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds each write to the upstream or the client. 0 disables it.
	WriteTimeout time.Duration

	// BufferSize is the relay chunk size (default: 4096)
	BufferSize int

	// TCPKeepAlive is the keep-alive period for upstream connections.
	TCPKeepAlive time.Duration
}

// Result describes a forwarding attempt. It is filled in as far as the
// attempt got, including on error.
type Result struct {
	BytesRelayed int64
	DialDuration time.Duration
}

// Forwarder forwards one request head per call. It is safe for concurrent use.
type Forwarder struct {
	config      Config
	dialer      *net.Dialer
	dialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	breakers    *breaker.Set
	bufferPool  sync.Pool
}

// New creates a Forwarder. breakers may be nil to dial without circuit breaking.
func New(cfg Config, breakers *breaker.Set) *Forwarder {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	f := &Forwarder{
		config: cfg,
		dialer: &net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.TCPKeepAlive,
		},
		breakers: breakers,
	}
	f.dialContext = f.dialer.DialContext
	f.bufferPool.New = func() any {
		buf := make([]byte, cfg.BufferSize)
		return &buf
	}
	return f
}

// Forward dials addr, writes head to it, and copies everything the upstream
// sends to client until the upstream closes. Cancelling ctx closes both
// connections.
//
// Errors are ErrUpstreamUnreachable (nothing was written to client),
// ErrUpstreamWriteFailed, or ErrForwardInterrupted (client may have received
// part of the response).
func (f *Forwarder) Forward(ctx context.Context, client net.Conn, addr string, head []byte) (Result, error) {
	var res Result

	start := time.Now()
	upstream, err := f.dial(ctx, addr)
	res.DialDuration = time.Since(start)
	if err != nil {
		return res, perrors.Wrap(perrors.ErrUpstreamUnreachable, err)
	}
	defer upstream.Close()

	stop := context.AfterFunc(ctx, func() {
		upstream.Close()
		client.Close()
	})
	defer stop()

	if f.config.WriteTimeout > 0 {
		_ = upstream.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	}
	if _, err := upstream.Write(head); err != nil {
		return res, perrors.Wrap(perrors.ErrUpstreamWriteFailed, err)
	}

	res.BytesRelayed, err = f.relay(client, upstream)
	if err != nil {
		return res, perrors.Wrap(perrors.ErrForwardInterrupted, err)
	}
	return res, nil
}

func (f *Forwarder) dial(ctx context.Context, addr string) (net.Conn, error) {
	var conn net.Conn
	dial := func() error {
		c, err := f.dialContext(ctx, "tcp", addr)
		conn = c
		return err
	}

	var err error
	if f.breakers != nil {
		err = f.breakers.Call(addr, dial)
	} else {
		err = dial()
	}
	return conn, err
}

// relay copies upstream to client chunk by chunk, in arrival order, until
// upstream EOF.
func (f *Forwarder) relay(client, upstream net.Conn) (int64, error) {
	bufPtr := f.bufferPool.Get().(*[]byte)
	defer f.bufferPool.Put(bufPtr)
	buf := *bufPtr

	var total int64
	for {
		if f.config.IdleTimeout > 0 {
			_ = upstream.SetReadDeadline(time.Now().Add(f.config.IdleTimeout))
		}
		n, rerr := upstream.Read(buf)
		if n > 0 {
			if f.config.WriteTimeout > 0 {
				_ = client.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
			}
			w, werr := client.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}
