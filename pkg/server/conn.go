// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	serrors "github.com/absmach/mstomp/pkg/errors"
	"github.com/absmach/mstomp/pkg/handler"
	"github.com/absmach/mstomp/pkg/metrics"
	"github.com/absmach/mstomp/pkg/stompframe"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// session holds what both connection kinds share: identity, liveness and
// the handler notified on close.
type session struct {
	id       string
	remote   string
	handler  handler.Handler
	logger   *slog.Logger
	closed   atomic.Bool
	activity atomic.Int64
	wmu      sync.Mutex
	ended    func()
}

func (s *session) init(remote string, h handler.Handler, logger *slog.Logger, m *metrics.Metrics, transport string) {
	s.id = uuid.New().String()
	s.remote = remote
	s.handler = h
	s.logger = logger
	s.ended = m.ConnectionOpened(transport)
	s.activity.Store(time.Now().UnixNano())
}

func (s *session) ID() string         { return s.id }
func (s *session) RemoteAddr() string { return s.remote }
func (s *session) IsClosed() bool     { return s.closed.Load() }

func (s *session) LastActivity() time.Time {
	return time.Unix(0, s.activity.Load())
}

func (s *session) touch() {
	s.activity.Store(time.Now().UnixNano())
}

// tcpConn is a Conn over a raw stream socket.
type tcpConn struct {
	session
	raw net.Conn
}

var _ handler.Conn = (*tcpConn)(nil)

func newTCPConn(raw net.Conn, h handler.Handler, logger *slog.Logger, m *metrics.Metrics) *tcpConn {
	c := &tcpConn{raw: raw}
	c.init(raw.RemoteAddr().String(), h, logger, m, handler.TransportTCP)
	return c
}

func (c *tcpConn) Transport() string { return handler.TransportTCP }

func (c *tcpConn) Write(p []byte) error {
	if c.closed.Load() {
		return serrors.New("write", handler.TransportTCP, c.id, c.remote, serrors.ErrConnectionClosed)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := c.raw.Write(p); err != nil {
		return serrors.New("write", handler.TransportTCP, c.id, c.remote, err)
	}
	return nil
}

func (c *tcpConn) WriteFrame(f *frame.Frame) error {
	b, err := stompframe.Encode(f)
	if err != nil {
		return serrors.New("encode", handler.TransportTCP, c.id, c.remote, err)
	}
	return c.Write(b)
}

func (c *tcpConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.raw.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	c.ended()
	c.handler.OnClose(context.Background(), c)
	c.logger.Debug("connection closed",
		slog.String("conn", c.id),
		slog.String("transport", handler.TransportTCP),
		slog.String("remote", c.remote))

	return err
}

// wsConn is a Conn over an upgraded WebSocket. Frames are sent as binary messages.
type wsConn struct {
	session
	ws *websocket.Conn
}

var _ handler.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn, remote string, h handler.Handler, logger *slog.Logger, m *metrics.Metrics) *wsConn {
	c := &wsConn{ws: ws}
	c.init(remote, h, logger, m, handler.TransportWebSocket)
	return c
}

func (c *wsConn) Transport() string { return handler.TransportWebSocket }

func (c *wsConn) Write(p []byte) error {
	if c.closed.Load() {
		return serrors.New("write", handler.TransportWebSocket, c.id, c.remote, serrors.ErrConnectionClosed)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return serrors.New("write", handler.TransportWebSocket, c.id, c.remote, err)
	}
	return nil
}

func (c *wsConn) WriteFrame(f *frame.Frame) error {
	b, err := stompframe.Encode(f)
	if err != nil {
		return serrors.New("encode", handler.TransportWebSocket, c.id, c.remote, err)
	}
	return c.Write(b)
}

func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Best-effort close handshake; the peer may already be gone.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))

	err := c.ws.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	c.ended()
	c.handler.OnClose(context.Background(), c)
	c.logger.Debug("connection closed",
		slog.String("conn", c.id),
		slog.String("transport", handler.TransportWebSocket),
		slog.String("remote", c.remote))

	return err
}

// messageReader presents the messages of a WebSocket as one byte stream.
// A normal close from the peer reads as io.EOF.
type messageReader struct {
	ws *websocket.Conn
	r  io.Reader
}

func newMessageReader(ws *websocket.Conn) *messageReader {
	return &messageReader{ws: ws}
}

func (m *messageReader) Read(p []byte) (int, error) {
	for {
		if m.r == nil {
			// Advance to next message
			_, r, err := m.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived) {
					return 0, io.EOF
				}
				return 0, err
			}
			m.r = r
		}

		n, err := m.r.Read(p)
		if err == io.EOF {
			// At end of message
			m.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}
