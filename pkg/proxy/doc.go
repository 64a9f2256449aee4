// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy wires the TCP server, the request head parser, the Host
// router and the forwarder into a domain-routed reverse proxy.
//
// # Architecture
//
//	Application
//	     ↓
//	┌─────────────┐
//	│  HostProxy  │  (Coordinator)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│ tcp.Server  │  (Transport, lifecycle hooks)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│  Pipeline   │  (Per-connection state machine)
//	│ - parser    │
//	│ - router    │
//	│ - forwarder │
//	└─────────────┘
//
// # Per-connection States
//
//	Accepted ──read head──→ HeadParsed ──Host matched──→ Routed ──dialed──→ Forwarding ──EOF──→ Closed
//
// Any failure moves the connection straight to Closed. One request is served
// per connection and the request body is never read. The client receives
// only bytes produced by the upstream; no error responses are synthesized.
//
// # Routes
//
// The routes passed to NewHost may be a *route.Table, fixed for the lifetime
// of the proxy, or a *route.Store whose table can be swapped while serving.
//
// # Example
//
//	table, err := route.LoadFile("routes.txt")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	p := proxy.NewHost(proxy.HostConfig{
//		Host:        "127.0.0.1",
//		Port:        "8000",
//		DialTimeout: 10 * time.Second,
//		IdleTimeout: 60 * time.Second,
//	}, table, simple.New(logger))
//
//	if err := p.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package proxy
