// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/absmach/mstomp"
	"github.com/absmach/mstomp/examples/simple"
	serrors "github.com/absmach/mstomp/pkg/errors"
	"github.com/absmach/mstomp/pkg/health"
	"github.com/absmach/mstomp/pkg/httpbridge"
	"github.com/absmach/mstomp/pkg/metrics"
	"github.com/absmach/mstomp/pkg/ratelimit"
	"github.com/absmach/mstomp/pkg/server"
	"github.com/absmach/mstomp/pkg/server/tcp"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const envPrefix = "MSTOMP_"

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := mstomp.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %s\n", err)
		os.Exit(1)
	}

	logger := cfg.Logger()
	if envErr != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		logger.Error("failed to load TLS configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	m := metrics.New("mstomp", prometheus.DefaultRegisterer)

	var limiter *ratelimit.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, cfg.RateLimitClients)
		defer limiter.Close()
	}

	ln := tcp.New(tcp.Config{
		TLSConfig:       tlsCfg,
		KeepAlive:       cfg.KeepAlive,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	srv := server.New(server.Config{
		Options:  cfg.Server,
		Listener: ln,
		Limiter:  limiter,
		Metrics:  m,
		Logger:   logger,
	})
	srv.SetHandler(simple.New(logger))

	checker := health.NewChecker(health.DefaultCacheTTL)
	if cfg.Server.Port != server.DisabledPort {
		checker.RegisterCritical("stomp_listener", health.ListeningCheck(srv))
	}
	checker.Register("connections", health.ConnectionsCheck(ln.Connections, cfg.MaxConnections))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	g.Go(func() error {
		return serveHTTP(ctx, "metrics", cfg.MetricsPort, metricsMux, logger)
	})
	g.Go(func() error {
		return serveHTTP(ctx, "health", cfg.HealthPort, checker.Mux(), logger)
	})

	if err := startSTOMPServer(g, ctx, srv, logger); err != nil {
		logger.Error("STOMP server not started", slog.String("error", err.Error()))
		cancel()
	}

	if cfg.Server.WebsocketBridge {
		if err := startBridge(g, ctx, cfg, srv, tlsCfg, logger); err != nil {
			logger.Error("WebSocket bridge not started", slog.String("error", err.Error()))
			cancel()
		}
	}

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("mStomp service terminated with error: %s", err))
	} else {
		logger.Info("mStomp service stopped")
	}
}

func startSTOMPServer(g *errgroup.Group, ctx context.Context, srv *server.Server, logger *slog.Logger) error {
	listenErr := make(chan error, 1)
	err := srv.Listen(func(_ *server.Server, err error) {
		listenErr <- err
	})
	if err != nil {
		srv.Loop().Close()
		return err
	}

	g.Go(func() error {
		return runSTOMPServer(ctx, srv, listenErr, logger)
	})

	return nil
}

// runSTOMPServer waits for the listen result, then for ctx, and closes the
// server. The event loop is closed on every return path.
func runSTOMPServer(ctx context.Context, srv *server.Server, listenErr <-chan error, logger *slog.Logger) error {
	defer srv.Loop().Close()

	select {
	case err := <-listenErr:
		switch {
		case errors.Is(err, serrors.ErrServerDisabled):
			logger.Warn(err.Error())
		case err != nil:
			return err
		}
	case <-ctx.Done():
	}

	<-ctx.Done()

	closed := make(chan error, 1)
	srv.Close(func(err error) { closed <- err })
	return <-closed
}

func startBridge(g *errgroup.Group, ctx context.Context, cfg mstomp.Config, srv *server.Server, tlsCfg *tls.Config, logger *slog.Logger) error {
	b, err := httpbridge.New(httpbridge.Config{
		Host:            cfg.BridgeHost,
		Port:            cfg.BridgePort,
		Handler:         srv.WebSocketHandler(),
		TLSConfig:       tlsCfg,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	g.Go(func() error {
		return b.Listen(ctx)
	})
	return nil
}

func serveHTTP(ctx context.Context, name string, port int, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("Starting "+name+" server", slog.String("address", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	}
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
