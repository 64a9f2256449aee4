// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	perrors "github.com/absmach/vproxy/pkg/errors"
	"github.com/absmach/vproxy/pkg/handler"
	"github.com/google/uuid"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// acceptRetryDelay is the pause after a failed Accept before trying again.
const acceptRetryDelay = 5 * time.Millisecond

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int

	// TCPKeepAlive is the keep-alive period for accepted connections. 0 leaves
	// the system default.
	TCPKeepAlive time.Duration

	// DisableNoDelay turns Nagle's algorithm back on for accepted connections.
	DisableNoDelay bool

	// Logger for server events
	Logger *slog.Logger
}

// ConnHandler serves one accepted connection. The server closes conn after
// ServeConn returns.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn, hctx *handler.Context) error
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn, hctx *handler.Context) error

// ServeConn calls f.
func (f ConnHandlerFunc) ServeConn(ctx context.Context, conn net.Conn, hctx *handler.Context) error {
	return f(ctx, conn, hctx)
}

// Server accepts TCP connections and hands each one, on its own goroutine,
// to a ConnHandler.
type Server struct {
	config  Config
	conns   ConnHandler
	handler handler.Handler
	connSem chan struct{}
	wg      sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
}

// New creates a new TCP server with the given configuration, connection
// handler, and lifecycle hooks.
func New(cfg Config, conns ConnHandler, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}

	s := &Server{
		config:  cfg,
		conns:   conns,
		handler: h,
	}
	if cfg.MaxConnections > 0 {
		s.connSem = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

// Listen binds the configured address and serves until ctx is cancelled.
// A bind failure is reported as ErrListenBindFailed.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return perrors.Wrap(perrors.ErrListenBindFailed, fmt.Errorf("%s: %w", s.config.Address, err))
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then closes
// the listener and drains active connections. It takes ownership of listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.setAddr(listener.Addr())
	defer s.setAddr(nil)
	s.config.Logger.Info("TCP server started", slog.String("address", listener.Addr().String()))

	// Active connections get their own context so that they can outlive the
	// accept loop while draining.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ctx, connCtx, listener)
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
		return ErrShutdownTimeout
	}
}

// Addr returns the address the server is accepting on, or nil when it is not
// serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) setAddr(addr net.Addr) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
}

func (s *Server) acceptLoop(ctx, connCtx context.Context, listener net.Listener) {
	for {
		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			s.release()
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
			time.Sleep(acceptRetryDelay)
			continue
		}

		s.configureConn(conn)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			if err := s.handleConn(connCtx, conn); err != nil {
				s.config.Logger.Debug("connection handler error",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.String("kind", perrors.Kind(err)),
					slog.String("error", err.Error()))
			}
		}()
	}
}

func (s *Server) release() {
	if s.connSem != nil {
		<-s.connSem
	}
}

func (s *Server) configureConn(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if s.config.TCPKeepAlive > 0 {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(s.config.TCPKeepAlive)
	}
	_ = tc.SetNoDelay(!s.config.DisableNoDelay)
}

// handleConn runs the lifecycle hooks around the ConnHandler:
// 1. OnConnect (an error drops the connection unread)
// 2. ServeConn
// 3. OnDisconnect with the final error
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	hctx := &handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: conn.RemoteAddr().String(),
		AcceptedAt: time.Now(),
		State:      handler.Accepted,
	}

	s.config.Logger.Debug("connection accepted",
		slog.String("session", hctx.SessionID),
		slog.String("client", hctx.RemoteAddr))

	var err error
	if err = s.handler.OnConnect(ctx, hctx); err == nil {
		err = s.conns.ServeConn(ctx, conn, hctx)
	}
	hctx.State = handler.Closed

	if derr := s.handler.OnDisconnect(context.Background(), hctx, err); derr != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", derr.Error()))
	}

	s.config.Logger.Debug("connection closed",
		slog.String("session", hctx.SessionID),
		slog.Int64("bytes", hctx.BytesRelayed))

	return perrors.New("serve", hctx.SessionID, hctx.RemoteAddr, err)
}
