// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/absmach/mstomp/pkg/eventloop"
	serrors "github.com/absmach/mstomp/pkg/errors"
	"github.com/absmach/mstomp/pkg/handler"
	"github.com/absmach/mstomp/pkg/metrics"
	"github.com/absmach/mstomp/pkg/ratelimit"
	"github.com/absmach/mstomp/pkg/server/tcp"
	"github.com/gorilla/websocket"
)

// ErrStopping is returned by Listen while a Close is still in progress.
var ErrStopping = errors.New("server is stopping")

// ListenFunc receives the outcome of a listen call. On success s is the
// server and err is nil; on failure s is nil.
type ListenFunc func(s *Server, err error)

// CloseFunc receives the outcome of a close call.
type CloseFunc func(err error)

// Listener is the stream-socket transport driven by the Server.
// Listen and Close are asynchronous and report through their callbacks.
type Listener interface {
	ConnectHandler(h func(net.Conn))
	Listen(port int, host string, done func(error))
	Close(done func(error))
	ActualPort() int
}

var _ Listener = (*tcp.Server)(nil)

// Config holds the Server configuration.
type Config struct {
	// Options is the immutable STOMP server configuration
	Options Options

	// Listener is the TCP transport. If nil, a tcp.Server is created.
	Listener Listener

	// Loop is the context listen and close results are delivered on.
	// If nil, the server creates its own.
	Loop *eventloop.Loop

	// Limiter optionally limits connection attempts per client host
	Limiter *ratelimit.Limiter

	// Metrics is optional Prometheus instrumentation
	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts STOMP connections over TCP and WebSocket and hands the
// decoded frames to the attached handler.
type Server struct {
	opts     Options
	ln       Listener
	loop     *eventloop.Loop
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	listening atomic.Bool

	mu           sync.Mutex
	handler      handler.Handler
	starting     bool
	stopping     bool
	queuedCloses []CloseFunc
	closeWaiters []CloseFunc
}

// New creates a server. It does not bind anything until Listen is called.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Options.WebsocketPath == "" {
		cfg.Options.WebsocketPath = DefaultWebsocketPath
	}
	if cfg.Listener == nil {
		cfg.Listener = tcp.New(tcp.Config{Logger: cfg.Logger})
	}
	if cfg.Loop == nil {
		cfg.Loop = eventloop.New(cfg.Logger)
	}

	s := &Server{
		opts:    cfg.Options,
		ln:      cfg.Listener,
		loop:    cfg.Loop,
		limiter: cfg.Limiter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	s.upgrader = websocket.Upgrader{
		Subprotocols: Subprotocols,
		CheckOrigin:  s.checkOrigin,
	}

	return s
}

// SetHandler attaches h, replacing the current handler. It may be called at
// any time: connections accepted afterwards use h, connections already
// accepted keep the handler they were wired to. A nil h detaches the handler.
func (s *Server) SetHandler(h handler.Handler) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	return s
}

// Handler returns the currently attached handler, or nil.
func (s *Server) Handler() handler.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// Listen starts listening on the configured port and host.
func (s *Server) Listen(done ListenFunc) error {
	return s.ListenOn(s.opts.Port, s.opts.Host, done)
}

// ListenPort starts listening on port and DefaultHost.
func (s *Server) ListenPort(port int, done ListenFunc) error {
	return s.ListenOn(port, DefaultHost, done)
}

// ListenOn starts listening on host:port.
//
// Preconditions are checked synchronously: without an attached handler it
// returns errors.ErrNoHandler, and while listening, starting or stopping it
// returns an error, in all cases without touching the transport. The bind
// outcome is asynchronous and is passed to done on the event loop.
// DisabledPort never binds and reports errors.ErrServerDisabled to done.
func (s *Server) ListenOn(port int, host string, done ListenFunc) error {
	if port == DisabledPort {
		err := fmt.Errorf("%w. The port is set to '-1'.", serrors.ErrServerDisabled)
		if done == nil {
			s.logger.Warn(err.Error())
			return nil
		}
		s.dispatch(func() { done(nil, err) })
		return nil
	}

	s.mu.Lock()
	switch {
	case s.handler == nil:
		s.mu.Unlock()
		return serrors.ErrNoHandler
	case s.stopping:
		s.mu.Unlock()
		return ErrStopping
	case s.starting || s.listening.Load():
		s.mu.Unlock()
		return serrors.ErrAlreadyListening
	}
	s.starting = true
	s.mu.Unlock()

	s.ln.ConnectHandler(s.serveTCP)
	s.ln.Listen(port, host, func(err error) {
		s.listenDone(err, done)
	})

	return nil
}

// listenDone runs on the transport's goroutine.
func (s *Server) listenDone(err error, done ListenFunc) {
	s.mu.Lock()
	s.starting = false
	if err == nil {
		s.listening.Store(true)
	}
	queued := s.queuedCloses
	s.queuedCloses = nil
	s.mu.Unlock()

	if err != nil {
		if done != nil {
			s.dispatch(func() { done(nil, err) })
		} else {
			s.logger.Error("STOMP server failed to listen", slog.String("error", err.Error()))
		}
	} else {
		s.metrics.SetListening(true)
		s.logger.Info("STOMP server listening", slog.Int("port", s.ln.ActualPort()))
		if done != nil {
			s.dispatch(func() { done(s, nil) })
		}
	}

	// Closes requested while the bind was in flight.
	for _, c := range queued {
		s.Close(c)
	}
}

// Close stops listening. It is safe to call at any time and any number of
// times: when the server is not listening it reports success without doing
// anything. A Close issued while a Listen is in flight runs once the Listen
// completes. The result is passed to done, if not nil, on the event loop.
func (s *Server) Close(done CloseFunc) {
	s.mu.Lock()
	switch {
	case s.starting:
		s.queuedCloses = append(s.queuedCloses, done)
		s.mu.Unlock()
		return
	case s.stopping:
		s.closeWaiters = append(s.closeWaiters, done)
		s.mu.Unlock()
		return
	case !s.listening.Load():
		s.mu.Unlock()
		s.dispatchClose(done, nil)
		return
	}
	s.stopping = true
	s.closeWaiters = append(s.closeWaiters, done)
	s.mu.Unlock()

	s.ln.Close(s.closeDone)
}

// closeDone runs on the transport's goroutine. The listener is torn down
// whatever the outcome, so the listening flag is cleared on failure too.
func (s *Server) closeDone(err error) {
	if err != nil {
		s.logger.Info("STOMP server failed to stop", slog.String("error", err.Error()))
	} else {
		s.logger.Info("STOMP server stopped")
	}

	s.mu.Lock()
	s.listening.Store(false)
	s.stopping = false
	waiters := s.closeWaiters
	s.closeWaiters = nil
	s.mu.Unlock()

	s.metrics.SetListening(false)
	for _, w := range waiters {
		s.dispatchClose(w, err)
	}
}

func (s *Server) dispatchClose(done CloseFunc, err error) {
	if done == nil {
		return
	}
	s.dispatch(func() { done(err) })
}

func (s *Server) dispatch(task func()) {
	if err := s.loop.Run(task); err != nil {
		s.logger.Error("failed to deliver result", slog.String("error", err.Error()))
	}
}

// IsListening reports whether the last completed transition was a successful listen.
func (s *Server) IsListening() bool {
	return s.listening.Load()
}

// ActualPort returns the port the transport is bound to.
func (s *Server) ActualPort() int {
	return s.ln.ActualPort()
}

// Options returns the server options.
func (s *Server) Options() Options {
	return s.opts
}

// Loop returns the event loop results are delivered on.
func (s *Server) Loop() *eventloop.Loop {
	return s.loop
}
