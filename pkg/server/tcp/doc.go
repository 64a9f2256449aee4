// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the TCP accept loop used by vproxy.
//
// # Overview
//
// The server owns the listening socket and the lifetime of every accepted
// connection. What happens on a connection is delegated to a ConnHandler;
// the server only runs the lifecycle hooks around it.
//
//	┌─────────┐         ┌─────────┐         ┌─────────────┐
//	│ Client  │ ──TCP─→ │  Server │ ──────→ │ ConnHandler │
//	└─────────┘         └─────────┘         └─────────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Handler │
//	                    └─────────┘
//
// # Connection Flow
//
//  1. Accept (blocks while MaxConnections connections are active)
//  2. Apply TCP keep-alive and no-delay options
//  3. Create a handler.Context with a fresh session ID
//  4. handler.OnConnect (an error drops the connection unread)
//  5. ConnHandler.ServeConn
//  6. handler.OnDisconnect with the final error
//  7. Close the connection
//
// Errors of a single connection are logged at debug level and never stop
// the accept loop.
//
// # Graceful Shutdown
//
// When the context passed to Serve or Listen is cancelled:
//
//  1. The listener is closed and no new connections are accepted
//  2. Active connections keep running for up to ShutdownTimeout
//  3. Connections still active after that are cancelled and
//     ErrShutdownTimeout is returned
//
// # Example
//
//	srv := tcp.New(tcp.Config{Address: "127.0.0.1:8000"}, pipeline, hooks)
//	if err := srv.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
