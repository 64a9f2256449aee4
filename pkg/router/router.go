// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package router resolves a parsed request head to an upstream by its Host header.
package router

import (
	"fmt"

	perrors "github.com/absmach/vproxy/pkg/errors"
	"github.com/absmach/vproxy/pkg/parser"
	"github.com/absmach/vproxy/pkg/route"
)

// hostHeader is matched case-sensitively against header names.
const hostHeader = "Host"

// Resolver looks up the upstream for a domain. Both *route.Table and
// *route.Store implement it.
type Resolver interface {
	Lookup(domain string) (route.Upstream, bool)
}

// Outcome is the kind of routing decision.
type Outcome int

const (
	Matched Outcome = iota
	HeaderMissing
	NoRoute
)

// String returns a string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case HeaderMissing:
		return "header_missing"
	case NoRoute:
		return "no_route"
	default:
		return "unknown"
	}
}

// Decision is the result of resolving a request head.
type Decision struct {
	Outcome Outcome

	// Domain is the trimmed Host value. Empty for HeaderMissing.
	Domain string

	// Upstream is set only for Matched.
	Upstream route.Upstream
}

// Err returns nil for Matched, ErrHeaderMissing or ErrNoRoute otherwise.
func (d Decision) Err() error {
	switch d.Outcome {
	case Matched:
		return nil
	case HeaderMissing:
		return perrors.ErrHeaderMissing
	default:
		return fmt.Errorf("%w: %s", perrors.ErrNoRoute, d.Domain)
	}
}

// Router maps Host values to upstreams.
type Router struct {
	routes Resolver
}

// New creates a Router resolving against routes.
func New(routes Resolver) *Router {
	return &Router{routes: routes}
}

// Resolve scans headers for the first one named exactly "Host" and looks its
// value up. Later Host headers are ignored.
func (r *Router) Resolve(headers []parser.Header) Decision {
	domain, ok := host(headers)
	if !ok {
		return Decision{Outcome: HeaderMissing}
	}

	u, ok := r.routes.Lookup(domain)
	if !ok {
		return Decision{Outcome: NoRoute, Domain: domain}
	}
	return Decision{Outcome: Matched, Domain: domain, Upstream: u}
}

func host(headers []parser.Header) (string, bool) {
	for _, h := range headers {
		if h.Name == hostHeader {
			return h.Value(), true
		}
	}
	return "", false
}
