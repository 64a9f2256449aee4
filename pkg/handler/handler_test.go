// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"testing"
)

func TestNoopHandler(t *testing.T) {
	handler := &NoopHandler{}
	ctx := context.Background()
	hctx := &Context{
		SessionID:  "test-session",
		RemoteAddr: "127.0.0.1:1234",
		Domain:     "example.com",
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{
			name: "OnConnect",
			fn:   func() error { return handler.OnConnect(ctx, hctx) },
		},
		{
			name: "OnRoute",
			fn:   func() error { return handler.OnRoute(ctx, hctx) },
		},
		{
			name: "OnDisconnect",
			fn:   func() error { return handler.OnDisconnect(ctx, hctx, errors.New("closed")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Errorf("%s() returned error: %v", tt.name, err)
			}
		})
	}
}

// denyRoute rejects a fixed domain and allows everything else.
type denyRoute struct {
	NoopHandler
	domain string
}

func (d *denyRoute) OnRoute(ctx context.Context, hctx *Context) error {
	if hctx.Domain == d.domain {
		return errors.New("domain blocked")
	}
	return nil
}

func TestEmbeddedNoopHandler(t *testing.T) {
	var h Handler = &denyRoute{domain: "blocked.com"}
	ctx := context.Background()

	if err := h.OnConnect(ctx, &Context{}); err != nil {
		t.Errorf("Expected embedded OnConnect to allow, got %v", err)
	}
	if err := h.OnRoute(ctx, &Context{Domain: "blocked.com"}); err == nil {
		t.Error("Expected OnRoute to reject blocked domain")
	}
	if err := h.OnRoute(ctx, &Context{Domain: "example.com"}); err != nil {
		t.Errorf("Expected OnRoute to allow, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Accepted, "accepted"},
		{HeadParsed, "head_parsed"},
		{Routed, "routed"},
		{Forwarding, "forwarding"},
		{Closed, "closed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestStateOrder(t *testing.T) {
	order := []State{Accepted, HeadParsed, Routed, Forwarding, Closed}
	for i := 1; i < len(order); i++ {
		if order[i] <= order[i-1] {
			t.Errorf("Expected %s to come after %s", order[i], order[i-1])
		}
	}
}
