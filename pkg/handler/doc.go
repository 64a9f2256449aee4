// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the hooks that link the proxy's connection
// pipeline to application logic such as rate limiting, metrics and logging.
//
// # Connection Lifecycle
//
// Every accepted connection moves through the states below and ends in
// Closed, either after a completed relay or at the first failure:
//
//	Accepted → HeadParsed → Routed → Forwarding → Closed
//
// The hooks are called at the following points:
//   - OnConnect: after accept, before anything is read (may reject)
//   - OnRoute: after a route matched, before dialing the upstream (may reject)
//   - OnDisconnect: once, when the connection is closed, with the final error
//
// # Context
//
// The Context struct is filled in as the connection progresses. By the time
// OnDisconnect runs it carries the request line, the domain, the upstream,
// the last State reached and the relay statistics.
//
// # Example
//
//	type DenyList struct {
//		handler.NoopHandler
//		blocked map[string]bool
//	}
//
//	func (d *DenyList) OnRoute(ctx context.Context, hctx *handler.Context) error {
//		if d.blocked[hctx.Domain] {
//			return errors.New("domain blocked")
//		}
//		return nil
//	}
package handler
