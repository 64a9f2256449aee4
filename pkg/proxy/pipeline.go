// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	perrors "github.com/absmach/vproxy/pkg/errors"
	"github.com/absmach/vproxy/pkg/forwarder"
	"github.com/absmach/vproxy/pkg/handler"
	"github.com/absmach/vproxy/pkg/parser"
	"github.com/absmach/vproxy/pkg/router"
	"github.com/absmach/vproxy/pkg/server/tcp"
)

// PipelineConfig holds per-connection limits applied before forwarding.
type PipelineConfig struct {
	// HeadTimeout bounds the time a client has to send the full request head.
	// 0 disables it.
	HeadTimeout time.Duration

	// MaxHeadBytes limits the size of the request head. 0 means unlimited.
	MaxHeadBytes int

	// Logger for routing events
	Logger *slog.Logger
}

// Pipeline serves one request per connection: read the head, route it by
// Host, and forward it. It implements tcp.ConnHandler.
type Pipeline struct {
	config    PipelineConfig
	router    *router.Router
	forwarder *forwarder.Forwarder
	handler   handler.Handler
}

var _ tcp.ConnHandler = (*Pipeline)(nil)

// NewPipeline creates a Pipeline. h receives OnRoute; it may be nil.
func NewPipeline(cfg PipelineConfig, r *router.Router, f *forwarder.Forwarder, h handler.Handler) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}
	return &Pipeline{
		config:    cfg,
		router:    r,
		forwarder: f,
		handler:   h,
	}
}

// ServeConn moves conn through Accepted → HeadParsed → Routed → Forwarding,
// recording the last state reached in hctx. The first failure ends the
// connection; nothing is written to the client unless forwarding started.
func (p *Pipeline) ServeConn(ctx context.Context, conn net.Conn, hctx *handler.Context) error {
	if p.config.HeadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(p.config.HeadTimeout))
	}
	head, err := parser.ReadHead(bufio.NewReader(conn), p.config.MaxHeadBytes)
	if err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	hctx.Method = head.Method
	hctx.Path = head.Path
	hctx.Version = head.Version
	hctx.State = handler.HeadParsed

	decision := p.router.Resolve(head.Headers)
	hctx.Domain = decision.Domain
	if err := decision.Err(); err != nil {
		p.config.Logger.Debug("request not routed",
			slog.String("session", hctx.SessionID),
			slog.String("outcome", decision.Outcome.String()),
			slog.String("domain", decision.Domain))
		return err
	}

	hctx.Upstream = decision.Upstream.Addr()
	hctx.State = handler.Routed

	if err := p.handler.OnRoute(ctx, hctx); err != nil {
		return err
	}

	res, err := p.forwarder.Forward(ctx, conn, hctx.Upstream, head.Bytes())
	hctx.DialDuration = res.DialDuration
	hctx.BytesRelayed = res.BytesRelayed
	if !errors.Is(err, perrors.ErrUpstreamUnreachable) {
		hctx.State = handler.Forwarding
	}
	return err
}
