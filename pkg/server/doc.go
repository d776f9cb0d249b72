// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package server implements the STOMP server core: the listening lifecycle
// and the wiring of TCP and WebSocket connections to a Handler.
//
// # Lifecycle
//
// A Server is created idle. Listen, ListenPort and ListenOn check their
// preconditions synchronously and return an error without binding when no
// handler is attached or the server is already listening, starting or
// stopping. The bind itself is asynchronous; its outcome is delivered to the
// ListenFunc on the server's event loop.
//
// Close is safe at any time. On an idle server it reports success. A Close
// issued while a Listen is in flight runs once that Listen completes, and
// concurrent Closes all receive the result of the single teardown.
//
// Port DisabledPort (-1) disables the TCP transport: Listen reports
// errors.ErrServerDisabled and nothing is bound.
//
// # Connections
//
// Every accepted TCP socket and every upgraded WebSocket gets its own frame
// parser and is bound to the handler attached at accept time. Frames go to
// Handler.Handle in arrival order. A frame that cannot be decoded makes the
// server send a single ERROR frame with the message "Invalid frame received"
// and close the connection. Transport errors close the connection without
// replying.
//
// # WebSocket
//
// WebSocketHandler returns an http.Handler to mount on any HTTP server. Only
// upgrades on Options.WebsocketPath are accepted; other paths are rejected
// with 400 Bad Request. Negotiated sub-protocols are v10.stomp, v11.stomp
// and v12.stomp.
//
// # Example
//
//	srv := server.New(server.Config{Options: server.DefaultOptions()})
//	srv.SetHandler(myHandler)
//	err := srv.Listen(func(s *server.Server, err error) {
//		if err != nil {
//			logger.Error("listen failed", slog.String("error", err.Error()))
//			return
//		}
//		logger.Info("listening", slog.Int("port", s.ActualPort()))
//	})
package server
