// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	serrors "github.com/absmach/mstomp/pkg/errors"
	"github.com/absmach/mstomp/pkg/handler"
	"github.com/absmach/mstomp/pkg/stompframe"
	"github.com/go-stomp/stomp/v3/frame"
)

// serveTCP wires one accepted stream socket to the handler attached at
// accept time. It runs on the connection's own goroutine and returns once
// the connection is done.
func (s *Server) serveTCP(raw net.Conn) {
	remote := raw.RemoteAddr().String()

	if s.limiter != nil && !s.limiter.Allow(remote) {
		s.metrics.RateLimited(handler.TransportTCP)
		s.logger.Warn("connection rate limit exceeded, closing connection",
			slog.String("transport", handler.TransportTCP),
			slog.String("remote", remote))
		raw.Close()
		return
	}

	h := s.Handler()
	if h == nil {
		s.logger.Error("no STOMP handler attached, closing connection",
			slog.String("transport", handler.TransportTCP),
			slog.String("remote", remote))
		raw.Close()
		return
	}

	conn := newTCPConn(raw, h, s.logger, s.metrics)
	parser := stompframe.NewParser(s.opts.ParserOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	parser.
		ErrorHandler(func(err error) {
			s.metrics.DecodeError(handler.TransportTCP)
			s.logger.Debug("invalid frame received, closing connection",
				slog.String("conn", conn.ID()),
				slog.String("remote", remote),
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
			s.metrics.FrameReceived(handler.TransportTCP, f.Command)
			if err := h.Handle(ctx, handler.ServerFrame{Frame: f, Conn: conn}); err != nil {
				s.metrics.HandlerError(handler.TransportTCP, f.Command)
				s.logger.Warn("STOMP handler returned an error",
					slog.String("conn", conn.ID()),
					slog.String("command", f.Command),
					slog.String("error", err.Error()))
			}
		})

	s.logger.Debug("connection accepted",
		slog.String("conn", conn.ID()),
		slog.String("transport", handler.TransportTCP),
		slog.String("remote", remote))

	err := parser.Parse(raw)
	switch {
	case conn.IsClosed(), errors.Is(err, serrors.ErrInvalidFrame):
	case errors.Is(err, io.EOF):
		conn.Close()
	default:
		s.metrics.TransportError(handler.TransportTCP)
		s.logger.Error("The STOMP server caught a TCP socket error - closing connection",
			slog.String("conn", conn.ID()),
			slog.String("remote", remote),
			slog.String("error", err.Error()))
		conn.Close()
	}
}
