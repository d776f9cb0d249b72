// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package httpbridge hosts the STOMP WebSocket endpoint on its own HTTP server.
package httpbridge

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	serrors "github.com/absmach/mstomp/pkg/errors"
)

// DefaultShutdownTimeout bounds the graceful shutdown of the HTTP server.
const DefaultShutdownTimeout = 30 * time.Second

var (
	// ErrBridgeDisabled is returned by New when there is no WebSocket handler to host.
	ErrBridgeDisabled = errors.New("websocket bridge disabled")

	// ErrAlreadyStarted is returned by Listen once the bridge has been started.
	ErrAlreadyStarted = errors.New("websocket bridge already started")
)

// Config holds configuration for the WebSocket bridge.
type Config struct {
	Host            string
	Port            int
	Handler         http.Handler // Usually server.Server.WebSocketHandler()
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Bridge serves STOMP over WebSocket on a dedicated HTTP server.
type Bridge struct {
	server          *http.Server
	address         string
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	started  bool
	listener net.Listener
	ready    chan struct{}
}

// New creates the bridge. It fails with ErrBridgeDisabled when cfg.Handler is nil.
func New(cfg Config) (*Bridge, error) {
	if cfg.Handler == nil {
		return nil, ErrBridgeDisabled
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	server := &http.Server{
		Handler:           cfg.Handler,
		TLSConfig:         cfg.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Bridge{
		server:          server,
		address:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          cfg.Logger,
		ready:           make(chan struct{}),
	}, nil
}

// Listen starts the HTTP server and blocks until ctx is cancelled or the
// server fails. Upgraded connections are not tracked by the HTTP server;
// they end when the STOMP server closes them or the peer goes away.
// A Bridge serves once: after a successful bind, further calls return
// ErrAlreadyStarted. A failed bind may be retried.
func (b *Bridge) Listen(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	b.mu.Unlock()

	listener, err := net.Listen("tcp", b.address)
	if err != nil {
		b.mu.Lock()
		b.started = false
		b.mu.Unlock()
		return serrors.Wrap(err, "failed to listen on "+b.address)
	}

	b.mu.Lock()
	b.listener = listener
	b.mu.Unlock()
	close(b.ready)

	b.logger.Info("STOMP WebSocket bridge started",
		slog.String("address", listener.Addr().String()),
		slog.Bool("tls", b.server.TLSConfig != nil))

	errCh := make(chan error, 1)
	go func() {
		if b.server.TLSConfig != nil {
			// WSS
			errCh <- b.server.ServeTLS(listener, "", "")
		} else {
			// WS
			errCh <- b.server.Serve(listener)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
		defer cancel()

		if err := b.server.Shutdown(shutdownCtx); err != nil {
			b.logger.Error("error during WebSocket bridge shutdown", slog.String("error", err.Error()))
			return err
		}

		b.logger.Info("STOMP WebSocket bridge stopped")
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Ready is closed once Listen has bound its socket.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Addr returns the bound address, or nil before Listen binds.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}
