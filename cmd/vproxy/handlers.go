// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	perrors "github.com/absmach/vproxy/pkg/errors"
	"github.com/absmach/vproxy/pkg/handler"
	"github.com/absmach/vproxy/pkg/metrics"
	"github.com/absmach/vproxy/pkg/ratelimit"
)

// RateLimitedHandler wraps a handler with per-client connection rate limiting.
type RateLimitedHandler struct {
	handler handler.Handler
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// OnConnect implements handler.Handler with rate limiting.
func (h *RateLimitedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	client := ratelimit.ClientKey(hctx.RemoteAddr)
	if !h.limiter.Allow(client) {
		h.metrics.RateLimitedConnections.Inc()
		h.logger.Warn("Per-client rate limit exceeded",
			slog.String("client", client),
			slog.String("session", hctx.SessionID))
		return ratelimit.ErrRateLimitExceeded
	}

	return h.handler.OnConnect(ctx, hctx)
}

// OnRoute implements handler.Handler.
func (h *RateLimitedHandler) OnRoute(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnRoute(ctx, hctx)
}

// OnDisconnect implements handler.Handler.
func (h *RateLimitedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context, err error) error {
	return h.handler.OnDisconnect(ctx, hctx, err)
}

// InstrumentedHandler wraps a handler with metrics instrumentation.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics
}

// OnConnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.metrics.ActiveConnections.Inc()

	return h.handler.OnConnect(ctx, hctx)
}

// OnRoute implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnRoute(ctx context.Context, hctx *handler.Context) error {
	h.metrics.RoutedRequests.WithLabelValues(hctx.Domain).Inc()

	return h.handler.OnRoute(ctx, hctx)
}

// OnDisconnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context, err error) error {
	h.metrics.ActiveConnections.Dec()

	kind := perrors.Kind(err)
	var duration time.Duration
	if !hctx.AcceptedAt.IsZero() {
		duration = time.Since(hctx.AcceptedAt)
	}
	h.metrics.ObserveConnection(kind, duration, hctx.BytesRelayed)

	if hctx.Upstream != "" {
		if hctx.DialDuration > 0 {
			h.metrics.BackendDialDuration.WithLabelValues(hctx.Upstream).Observe(hctx.DialDuration.Seconds())
		}
		switch kind {
		case "upstream_unreachable", "upstream_write_failed", "forward_interrupted":
			h.metrics.BackendErrors.WithLabelValues(hctx.Upstream, kind).Inc()
		}
	}

	return h.handler.OnDisconnect(ctx, hctx, err)
}
