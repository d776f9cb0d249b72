// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	serrors "github.com/absmach/mstomp/pkg/errors"
	"github.com/absmach/mstomp/pkg/handler"
	"github.com/absmach/mstomp/pkg/stompframe"
	"github.com/go-stomp/stomp/v3/frame"
)

// WebSocketHandler returns the handler to mount on an HTTP server to accept
// STOMP over WebSocket, or nil when the WebSocket bridge is disabled. In that
// case the HTTP layer must refuse upgrades on its own.
func (s *Server) WebSocketHandler() http.Handler {
	if !s.opts.WebsocketBridge {
		return nil
	}
	return http.HandlerFunc(s.serveWebSocket)
}

// serveWebSocket wires one upgraded WebSocket to the handler attached at
// upgrade time. Requests on any path but the configured one are rejected
// before anything is created.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.opts.WebsocketPath {
		s.metrics.UpgradeRejected("path")
		s.logger.Error("Receiving a web socket connection on an invalid path, rejecting connection",
			slog.String("path", r.URL.Path),
			slog.String("configured_path", s.opts.WebsocketPath),
			slog.String("remote", r.RemoteAddr))
		http.Error(w, serrors.ErrInvalidPath.Error(), http.StatusBadRequest)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(r.RemoteAddr) {
		s.metrics.RateLimited(handler.TransportWebSocket)
		s.logger.Warn("connection rate limit exceeded, rejecting upgrade",
			slog.String("transport", handler.TransportWebSocket),
			slog.String("remote", r.RemoteAddr))
		http.Error(w, serrors.ErrRateLimited.Error(), http.StatusTooManyRequests)
		return
	}

	h := s.Handler()
	if h == nil {
		s.metrics.UpgradeRejected("no_handler")
		s.logger.Error("no STOMP handler attached, rejecting upgrade",
			slog.String("remote", r.RemoteAddr))
		http.Error(w, serrors.ErrNoHandler.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		s.metrics.UpgradeRejected("upgrade")
		s.logger.Error("failed to upgrade client connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	conn := newWSConn(ws, r.RemoteAddr, h, s.logger, s.metrics)
	parser := stompframe.NewParser(s.opts.ParserOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	parser.
		ErrorHandler(func(err error) {
			s.metrics.DecodeError(handler.TransportWebSocket)
			s.logger.Debug("invalid frame received, closing connection",
				slog.String("conn", conn.ID()),
				slog.String("remote", r.RemoteAddr),
				slog.String("error", err.Error()))
			if werr := conn.WriteFrame(stompframe.InvalidFrameError(err)); werr != nil {
				s.logger.Debug("failed to send error frame",
					slog.String("conn", conn.ID()),
					slog.String("error", werr.Error()))
			}
			conn.Close()
		}).
		ActivityHandler(conn.touch).
		Handler(func(f *frame.Frame) {
			if conn.IsClosed() {
				return
			}
			s.metrics.FrameReceived(handler.TransportWebSocket, f.Command)
			if err := h.Handle(ctx, handler.ServerFrame{Frame: f, Conn: conn}); err != nil {
				s.metrics.HandlerError(handler.TransportWebSocket, f.Command)
				s.logger.Warn("STOMP handler returned an error",
					slog.String("conn", conn.ID()),
					slog.String("command", f.Command),
					slog.String("error", err.Error()))
			}
		})

	s.logger.Debug("websocket connection upgraded",
		slog.String("conn", conn.ID()),
		slog.String("subprotocol", ws.Subprotocol()),
		slog.String("remote", r.RemoteAddr))

	err = parser.Parse(newMessageReader(ws))
	switch {
	case conn.IsClosed(), errors.Is(err, serrors.ErrInvalidFrame):
	case errors.Is(err, io.EOF):
		conn.Close()
	default:
		s.metrics.TransportError(handler.TransportWebSocket)
		s.logger.Error("The STOMP server caught a WebSocket error - closing connection",
			slog.String("conn", conn.ID()),
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		conn.Close()
	}
}

// checkOrigin accepts every origin unless WebsocketAllowedOrigins is set.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.WebsocketAllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.WebsocketAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
