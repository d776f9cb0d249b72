// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// Transport names reported by Conn.Transport.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Conn is one accepted client session, independent of its transport.
// Write and Close may be called from any goroutine. Close is idempotent.
type Conn interface {
	// ID is a unique identifier for this connection.
	ID() string

	// Transport indicates the carrier of the session (tcp, websocket).
	Transport() string

	// RemoteAddr is the client's network address.
	RemoteAddr() string

	// Write sends raw bytes to the client.
	Write(p []byte) error

	// WriteFrame encodes and sends a frame to the client.
	WriteFrame(f *frame.Frame) error

	// Close tears the session down. Handler.OnClose is called on the first Close only.
	Close() error

	// IsClosed reports whether Close has been called.
	IsClosed() bool

	// LastActivity is the time the last frame or heart-beat was read.
	LastActivity() time.Time
}

// ServerFrame is a decoded frame paired with the connection it was read from.
type ServerFrame struct {
	Frame *frame.Frame
	Conn  Conn
}

// Handler implements the STOMP semantics on top of the server core.
//
// Handle is called once per decoded frame, always from the goroutine that
// reads the originating connection, so calls for one connection never
// overlap. Calls for different connections run concurrently.
//
// Errors returned from Handle are logged but don't close the connection;
// a handler that wants the client gone closes the Conn itself.
type Handler interface {
	// Handle processes a frame received from a client.
	Handle(ctx context.Context, sf ServerFrame) error

	// OnClose is called once when a connection wired to this handler closes.
	OnClose(ctx context.Context, c Conn)
}

// Func adapts a function to the Handler interface. OnClose is a no-op.
type Func func(ctx context.Context, sf ServerFrame) error

var _ Handler = (Func)(nil)

// Handle calls f(ctx, sf).
func (f Func) Handle(ctx context.Context, sf ServerFrame) error {
	return f(ctx, sf)
}

func (f Func) OnClose(ctx context.Context, c Conn) {}

// NoopHandler is a Handler implementation that ignores every frame.
// Useful for testing or for a server that only needs to accept connections.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) Handle(ctx context.Context, sf ServerFrame) error {
	return nil
}

func (h *NoopHandler) OnClose(ctx context.Context, c Conn) {}
