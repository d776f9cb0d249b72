// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mstomp holds the service-level configuration of the STOMP server.
package mstomp

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/absmach/mstomp/pkg/server"
	"github.com/caarlos0/env/v11"
)

var (
	errNoCACerts  = errors.New("no certificates found in client CA file")
	errPartialTLS = errors.New("both TLS certificate and key files are required")
)

// Config is the configuration of one STOMP server deployment.
type Config struct {
	Server server.Options `envPrefix:"STOMP_"`

	// TLS
	CertFile     string `env:"CERT_FILE"      envDefault:""`
	KeyFile      string `env:"KEY_FILE"       envDefault:""`
	ClientCAFile string `env:"CLIENT_CA_FILE" envDefault:""`

	// Bridge is the port of the HTTP server hosting the WebSocket endpoint.
	BridgeHost string `env:"BRIDGE_HOST" envDefault:"0.0.0.0"`
	BridgePort int    `env:"BRIDGE_PORT" envDefault:"61614"`

	// Observability
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`

	// Resource limits
	MaxConnections  int           `env:"MAX_CONNECTIONS"  envDefault:"10000"`
	KeepAlive       time.Duration `env:"KEEP_ALIVE"       envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting of new connections per client host. A zero rate disables it.
	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" envDefault:"0"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST"      envDefault:"20"`
	RateLimitClients   int     `env:"RATE_LIMIT_CLIENTS"    envDefault:"10000"`
}

// NewConfig parses the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}

// TLSConfig builds the listener TLS configuration. It returns nil when no
// certificate is configured, and requires client certificates when a client
// CA file is set.
func (c Config) TLSConfig() (*tls.Config, error) {
	if c.CertFile == "" && c.KeyFile == "" {
		return nil, nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, errPartialTLS
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientCAFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(c.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errNoCACerts
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert

	return cfg, nil
}

// Logger creates a structured logger with the configured level and format.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
