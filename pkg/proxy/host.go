// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/absmach/vproxy/pkg/breaker"
	"github.com/absmach/vproxy/pkg/forwarder"
	"github.com/absmach/vproxy/pkg/handler"
	"github.com/absmach/vproxy/pkg/router"
	"github.com/absmach/vproxy/pkg/server/tcp"
)

// HostConfig holds configuration for the Host-routed proxy.
type HostConfig struct {
	Host string
	Port string

	DialTimeout     time.Duration
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	HeadTimeout     time.Duration // defaults to IdleTimeout
	ShutdownTimeout time.Duration

	BufferSize     int
	MaxHeadBytes   int
	MaxConnections int
	TCPKeepAlive   time.Duration

	// Breakers guard upstream dials. nil disables circuit breaking.
	Breakers *breaker.Set

	Logger *slog.Logger
}

// HostProxy coordinates the TCP server and the routing pipeline.
type HostProxy struct {
	server *tcp.Server
}

// NewHost creates a proxy that routes each connection by its Host header
// against routes. h receives every lifecycle hook; it may be nil.
func NewHost(cfg HostConfig, routes router.Resolver, h handler.Handler) *HostProxy {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}
	if cfg.HeadTimeout == 0 {
		cfg.HeadTimeout = cfg.IdleTimeout
	}

	fwd := forwarder.New(forwarder.Config{
		DialTimeout:  cfg.DialTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		WriteTimeout: cfg.WriteTimeout,
		BufferSize:   cfg.BufferSize,
		TCPKeepAlive: cfg.TCPKeepAlive,
	}, cfg.Breakers)

	pipeline := NewPipeline(PipelineConfig{
		HeadTimeout:  cfg.HeadTimeout,
		MaxHeadBytes: cfg.MaxHeadBytes,
		Logger:       cfg.Logger,
	}, router.New(routes), fwd, h)

	server := tcp.New(tcp.Config{
		Address:         net.JoinHostPort(cfg.Host, cfg.Port),
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxConnections:  cfg.MaxConnections,
		TCPKeepAlive:    cfg.TCPKeepAlive,
		Logger:          cfg.Logger,
	}, pipeline, h)

	return &HostProxy{
		server: server,
	}
}

// Listen binds the configured address and serves until ctx is cancelled.
func (p *HostProxy) Listen(ctx context.Context) error {
	return p.server.Listen(ctx)
}

// Addr returns the address the proxy is accepting on, or nil when it is not
// serving.
func (p *HostProxy) Addr() net.Addr {
	return p.server.Addr()
}

// Serve serves on an existing listener until ctx is cancelled.
func (p *HostProxy) Serve(ctx context.Context, listener net.Listener) error {
	return p.server.Serve(ctx, listener)
}
