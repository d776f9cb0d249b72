// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	serrors "github.com/absmach/mstomp/pkg/errors"
)

const (
	// DefaultShutdownTimeout is the default time Close waits for connections to drain.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultKeepAlive is the default TCP keep-alive period of accepted connections.
	DefaultKeepAlive = 30 * time.Second
)

var (
	// ErrShutdownTimeout is returned when connections are still open after being forcefully closed.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrAlreadyListening is returned when Listen is called on a bound server.
	ErrAlreadyListening = errors.New("tcp server already listening")
)

// Config holds the TCP server configuration.
type Config struct {
	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// KeepAlive is the TCP keep-alive period. Negative disables keep-alives.
	KeepAlive time.Duration

	// MaxConnections is the maximum number of concurrent connections.
	// If 0, no limit is enforced.
	MaxConnections int

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during Close. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger
}

// Server is an asynchronous TCP listener. Listen and Close report their
// outcome through callbacks which run on the server's own goroutines.
// Every accepted connection is passed to the connect handler on a dedicated
// goroutine and closed when the handler returns.
type Server struct {
	config  Config
	connSem chan struct{}

	mu         sync.Mutex
	listener   net.Listener
	handler    func(net.Conn)
	conns      map[net.Conn]struct{}
	acceptDone chan struct{}
	wg         sync.WaitGroup
	port       atomic.Int32
}

// New creates a new TCP server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	s := &Server{
		config: cfg,
		conns:  make(map[net.Conn]struct{}),
	}
	if cfg.MaxConnections > 0 {
		s.connSem = make(chan struct{}, cfg.MaxConnections)
	}

	return s
}

// ConnectHandler sets the function run for every accepted connection.
// It must be set before Listen.
func (s *Server) ConnectHandler(h func(net.Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Listen binds host:port and starts accepting connections. done receives the
// bind result; the accept loop is already running when done is called with nil.
func (s *Server) Listen(port int, host string, done func(error)) {
	go func() {
		err := s.listen(port, host)
		if done != nil {
			done(err)
		}
	}()
}

func (s *Server) listen(port int, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyListening
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	lc := net.ListenConfig{KeepAlive: s.config.KeepAlive}
	listener, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return serrors.Wrap(err, "failed to listen on "+address)
	}

	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(addr.Port))
	}

	// Wrap with TLS if configured
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", address))
	}

	s.listener = listener
	s.acceptDone = make(chan struct{})
	go s.acceptLoop(listener, s.handler, s.acceptDone)

	s.config.Logger.Debug("TCP server started", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *Server) acceptLoop(listener net.Listener, handler func(net.Conn), done chan struct{}) {
	defer close(done)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			default:
				s.config.Logger.Warn("connection limit reached, rejecting connection",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.Int("max_connections", s.config.MaxConnections))
				conn.Close()
				continue
			}
		}

		s.track(conn)
		go func() {
			defer s.untrack(conn)
			if handler != nil {
				handler(conn)
			}
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	conn.Close()

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	if s.connSem != nil {
		<-s.connSem
	}
	s.wg.Done()
}

// Close stops accepting connections, waits for active connections to drain
// and reports the result to done. Closing an unbound server succeeds.
func (s *Server) Close(done func(error)) {
	go func() {
		err := s.close()
		if done != nil {
			done(err)
		}
	}()
}

func (s *Server) close() error {
	s.mu.Lock()
	listener, acceptDone := s.listener, s.acceptDone
	s.listener = nil
	s.mu.Unlock()

	if listener == nil {
		return nil
	}

	err := listener.Close()
	<-acceptDone
	s.port.Store(0)

	// Wait for active connections to drain with timeout
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.config.Logger.Debug("all connections closed gracefully")
		return err
	case <-time.After(s.config.ShutdownTimeout):
	}

	s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	select {
	case <-drained:
		return err
	case <-time.After(1 * time.Second):
		return ErrShutdownTimeout
	}
}

// ActualPort returns the bound port, or 0 when the server is not listening.
func (s *Server) ActualPort() int {
	return int(s.port.Load())
}

// Connections returns the number of active connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
