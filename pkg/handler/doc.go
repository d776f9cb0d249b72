// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the interface that links the server core to the
// application implementing STOMP semantics.
//
// # Architecture Overview
//
// The server core accepts connections, decodes frames and hands them over.
// It never looks inside a frame. Subscriptions, transactions, receipts and
// acknowledgements are the business of the Handler.
//
// # Data Flow
//
//	Client → Transport → Parser → Server → Handler.Handle(ServerFrame)
//	Handler → Conn.WriteFrame → Transport → Client
//	Conn.Close → Handler.OnClose
//
// # Conn
//
// Conn abstracts one client session over TCP or WebSocket:
//   - ID: Unique identifier for this connection
//   - Transport: tcp or websocket
//   - RemoteAddr: Client's network address
//   - Write, WriteFrame: Send bytes or a frame to the client
//   - Close: Idempotent teardown
//   - LastActivity: Time of the last inbound frame or heart-beat
//
// # Handler swapping
//
// The server reads its current Handler once per accepted connection. Replacing
// the handler on a running server affects connections accepted afterwards;
// connections already wired keep delivering to the handler they started with.
//
// # Example
//
//	type Broker struct {
//		subs *Subscriptions
//	}
//
//	func (b *Broker) Handle(ctx context.Context, sf handler.ServerFrame) error {
//		switch sf.Frame.Command {
//		case frame.SUBSCRIBE:
//			return b.subs.Add(sf.Conn, sf.Frame)
//		case frame.SEND:
//			return b.subs.Publish(sf.Frame)
//		}
//		return nil
//	}
//
//	func (b *Broker) OnClose(ctx context.Context, c handler.Conn) {
//		b.subs.RemoveAll(c)
//	}
package handler
