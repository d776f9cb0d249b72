// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the asynchronous stream-socket listener used by the
// STOMP server core.
//
// # Overview
//
// The listener binds a TCP port, accepts connections and runs a connect
// handler for each of them. Binding and closing are asynchronous: both report
// their outcome through a callback invoked on one of the listener's own
// goroutines, never on the caller's.
//
// # Connection Flow
//
//  1. Listen binds host:port and starts the accept loop
//  2. The bind result is passed to the Listen callback
//  3. Each accepted connection is tracked and handed to the connect handler
//     on its own goroutine
//  4. When the handler returns, the connection is closed and untracked
//
// # Shutdown
//
// Close:
//
//  1. Closes the listening socket and waits for the accept loop to exit
//  2. Waits for active connections to finish (ShutdownTimeout)
//  3. Forcefully closes remaining connections
//  4. Reports ErrShutdownTimeout only if connections are still running
//     one second after being closed
//
// Closing a listener that is not bound succeeds immediately, and a closed
// listener can be bound again.
//
// # Configuration
//
//   - TLSConfig: Optional TLS configuration
//   - KeepAlive: TCP keep-alive period (default: 30s)
//   - MaxConnections: Concurrent connection cap (default: unlimited)
//   - ShutdownTimeout: Max wait time for connections to drain (default: 5s)
//   - Logger: Structured logger
//
// # Example
//
//	ln := tcp.New(tcp.Config{Logger: logger})
//	ln.ConnectHandler(func(conn net.Conn) {
//		io.Copy(conn, conn)
//	})
//	ln.Listen(61613, "0.0.0.0", func(err error) {
//		if err != nil {
//			logger.Error("bind failed", slog.String("error", err.Error()))
//		}
//	})
package tcp
