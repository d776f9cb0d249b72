// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package stompframe turns a byte stream into STOMP frames for the server core.
//
// # Overview
//
// A Parser is created for exactly one physical connection. It reads the
// connection's inbound bytes, decodes them with the go-stomp frame reader and
// reports every outcome through callbacks:
//
//	Transport → Parser.Parse(r) → Handler(frame)       decoded frame
//	                            → ErrorHandler(err)    decode failure
//	                            → return err           end-of-stream or transport error
//
// Parsers are never shared between connections, so decoder state cannot leak
// from one client to another.
//
// # Decode errors
//
// A frame is rejected when the decoder fails, when its command is not a
// client command, or when it exceeds the configured limits:
//
//   - MaxHeaders: number of header entries
//   - MaxHeaderLength: length of any header key or value
//   - MaxBodyLength: length of the body
//
// A rejected frame stops parsing. ErrorHandler receives an error wrapping
// errors.ErrInvalidFrame and Parse returns the same error.
//
// # Heart-beats
//
// Bare EOLs between frames are heart-beats. They are not delivered to the
// Handler but do trigger the ActivityHandler.
//
// # Error frames
//
// InvalidFrameError builds the ERROR frame sent to a client before its
// connection is torn down, and Encode serializes any frame to wire bytes.
package stompframe
