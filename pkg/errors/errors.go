// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mstomp.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrNoHandler indicates listen was attempted without an application handler attached.
	ErrNoHandler = errors.New("cannot open STOMP server - no STOMP handler attached to the server")

	// ErrServerDisabled indicates the TCP transport is disabled through the sentinel port.
	ErrServerDisabled = errors.New("TCP server disabled")

	// ErrAlreadyListening indicates listen was called while the server is listening or starting.
	ErrAlreadyListening = errors.New("server already listening")

	// ErrInvalidFrame indicates a frame could not be decoded.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidPath indicates a WebSocket upgrade on a path other than the configured one.
	ErrInvalidPath = errors.New("invalid websocket path")

	// ErrRateLimited indicates the connection rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ServerError wraps a per-connection error with additional context.
type ServerError struct {
	Op         string // Operation that failed
	Transport  string // Transport (tcp, websocket)
	ConnID     string // Connection identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.ConnID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Transport, e.Op, e.ConnID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Transport, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}

// New creates a new ServerError.
func New(op, transport, connID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ServerError{
		Op:         op,
		Transport:  transport,
		ConnID:     connID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
